package nodes

import (
	"context"
	"time"

	"github.com/petal-labs/scenarioflow/core"
)

// Delay completes a fixed duration after it is activated.
type Delay struct {
	base
	Duration time.Duration
}

// NewDelay returns a delay node.
func NewDelay(hash core.Hash, activation core.ActivationType, d time.Duration, components ...core.Component) *Delay {
	n := &Delay{Duration: d}
	n.base = newBase(n, hash, activation, components)
	return n
}

func (n *Delay) Kind() string { return KindDelay }

func (n *Delay) Wait(ctx context.Context) error {
	if n.Duration <= 0 {
		return nil
	}
	t := time.NewTimer(n.Duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
