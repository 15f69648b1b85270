// Package logger provides structured logging over zerolog.
//
// Every gateway component logs through a component-scoped logger with
// structured fields. Spans started by the orchestrator are correlated
// through WithContext, which adds the OpenTelemetry trace and span IDs.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("orchestrator")
//	log.Info("task completed", logger.Fields(logger.FieldTaskID, id, logger.FieldRetries, 1))
package logger
