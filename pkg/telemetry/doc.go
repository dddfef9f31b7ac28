// Package telemetry provides observability instrumentation for bootsync.
//
// It bundles structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics, and an event publisher behind one
// Telemetry value that the CLI initializes once and threads through the
// engine.
//
// Initialize at startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Component loggers carry structured fields through a run:
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithRunID(runID).WithSubsystem("flatpak").Info("capture started")
//
// Metrics are exposed over HTTP in watch mode via Metrics.Serve; one-shot
// CLI runs record into the same registry without serving it.
package telemetry
