package engine

import (
	"time"

	"github.com/satindergrewal/mixlab/internal/workspace"
)

// ModuleTiming is the time one module spent in RunTick.
type ModuleTiming struct {
	Module   workspace.ModuleID `json:"module"`
	Duration time.Duration      `json:"duration"`
}

// PerformanceInfo describes one tick. Records are shared between
// subscribers and must not be modified.
type PerformanceInfo struct {
	Tick     uint64         `json:"tick"`
	Start    time.Time      `json:"start"`
	Duration time.Duration  `json:"duration"`
	Budget   time.Duration  `json:"budget"`
	Lag      time.Duration  `json:"lag"` // delay between the scheduled tick and its start
	Modules  []ModuleTiming `json:"modules"`
}

// Realtime reports whether the tick finished within its budget.
func (p *PerformanceInfo) Realtime() bool {
	return p.Duration <= p.Budget
}
