package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Ramp returns the gain to apply at sample i of a block of length n while
// moving from gain `from` to gain `to`. The curve reaches `to` on the last
// sample so consecutive blocks join without a step.
func Ramp(from, to float32, i, n int) float32 {
	if from == to || n <= 1 {
		return to
	}
	g := Smoothstep(float64(i) / float64(n-1))
	return from + (to-from)*float32(g)
}
