package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/satindergrewal/mixlab/internal/audio"
)

var errNoMedia = errors.New("no media resolver configured")

// player plays a decoded media item from the project library.
type player struct {
	params  PlayerParams
	samples []audio.Sample
	pos     int
	playing bool
}

func loadPlayer(ctx context.Context, env Env, p PlayerParams) (*player, error) {
	if env.MediaPath == nil {
		return nil, errNoMedia
	}
	path, err := env.MediaPath(p.Media)
	if err != nil {
		return nil, fmt.Errorf("resolve media %s: %w", p.Media, err)
	}

	decode := env.Decode
	if decode == nil {
		decode = audio.DecodeFile
	}
	samples, err := decode(ctx, path)
	if err != nil {
		return nil, err
	}

	return &player{params: p, samples: samples, playing: len(samples) > 0}, nil
}

func (pl *player) indication() Indication {
	return Indication{Kind: KindPlayer, Player: &PlayerIndication{
		Media:   pl.params.Media,
		Length:  len(pl.samples),
		Playing: pl.playing,
	}}
}

func (pl *player) Params() Params {
	return Player(pl.params.Media, pl.params.Loop)
}

// Update changes looping in place. Switching media returns ErrRebuild.
func (pl *player) Update(p Params) (*Indication, error) {
	if err := checkKind(KindPlayer, p); err != nil {
		return nil, err
	}
	if p.Player.Media != pl.params.Media {
		return nil, fmt.Errorf("%w: player media changed", ErrRebuild)
	}
	pl.params = *p.Player
	if pl.params.Loop && !pl.playing && len(pl.samples) > 0 {
		pl.pos = 0
		pl.playing = true
		ind := pl.indication()
		return &ind, nil
	}
	return nil, nil
}

func (pl *player) RunTick(_ uint64, _ [][]audio.Sample, outputs [][]audio.Sample) *Indication {
	out := outputs[0]
	wasPlaying := pl.playing

	for i := range out {
		if !pl.playing {
			out[i] = 0
			continue
		}
		out[i] = pl.samples[pl.pos]
		pl.pos++
		if pl.pos == len(pl.samples) {
			pl.pos = 0
			pl.playing = pl.params.Loop
		}
	}

	if pl.playing == wasPlaying {
		return nil
	}
	ind := pl.indication()
	return &ind
}

func (pl *player) Inputs() []Terminal { return nil }

func (pl *player) Outputs() []Terminal { return []Terminal{LineMono.Unlabeled()} }

func (pl *player) Close() error { return nil }
