// Package telemetry provides logging, tracing and metrics for fleetdeck.
//
// Logging is built on zerolog, tracing on OpenTelemetry and metrics on
// Prometheus. Metrics are never served over HTTP; when a textfile path is
// configured they are written in the node_exporter textfile format on
// Shutdown.
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	log := tel.Logger.NewComponentLogger("engine").WithProvider("prod-k8s", "cluster")
//	log.Info("sync started")
package telemetry
