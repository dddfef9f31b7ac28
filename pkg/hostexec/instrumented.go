package hostexec

import (
	"context"
	"time"

	"github.com/wycats/bootsync/pkg/telemetry"
)

// InstrumentedRunner wraps a Runner with debug logging and command metrics.
type InstrumentedRunner struct {
	inner   Runner
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewInstrumentedRunner wraps inner. Logger and metrics may be nil.
func NewInstrumentedRunner(inner Runner, logger *telemetry.Logger, metrics *telemetry.Metrics) *InstrumentedRunner {
	if logger == nil {
		logger = telemetry.FromContext(context.Background())
	}
	return &InstrumentedRunner{
		inner:   inner,
		logger:  logger.NewComponentLogger("hostexec"),
		metrics: metrics,
	}
}

// Run implements Runner.
func (i *InstrumentedRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	start := time.Now()
	res, err := i.inner.Run(ctx, cmd)
	duration := time.Since(start)

	if err != nil {
		i.metrics.RecordCommand(cmd.Program, duration, false)
		i.logger.WithError(err).Debugf("command failed to execute: %s", cmd.String())
		return nil, err
	}

	i.metrics.RecordCommand(cmd.Program, duration, res.Success())
	i.logger.WithField("exit_code", res.ExitCode).
		WithField("duration", res.Duration.String()).
		Debugf("ran %s", cmd.String())
	return res, nil
}
