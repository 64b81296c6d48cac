package scheduler

import (
	"context"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/roles"
	"github.com/petal-labs/scenarioflow/runtime"
)

// PlayerRunner plays scheduled scenarios on a fresh session per run. Each
// run gets its own role filter so overlapping schedules never share filter
// sessions.
type PlayerRunner struct {
	Services runtime.Services
	Config   runtime.PlayerConfig
}

// Run implements Runner.
func (r PlayerRunner) Run(ctx context.Context, params *core.LaunchParameters) (string, error) {
	services := r.Services
	services.RoleFilter = roles.NewService(services.Logger)
	res, err := runtime.RunScenario(ctx, services, r.Config, params)
	return res.RunID, err
}
