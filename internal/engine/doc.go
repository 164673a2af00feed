// Package engine runs the module graph. A single goroutine owns the graph
// and advances it once per tick; everything else reaches it by message
// passing. Edits, session registration and snapshots are applied between
// ticks on that goroutine, so no tick ever sees a half-applied edit.
//
// The loop only ever communicates outward with non-blocking sends: session
// event buffers drop (and later resync) when full, performance records are
// dropped when nobody keeps up, and workspace snapshots for persistence are
// conflated so the newest one always wins.
package engine
