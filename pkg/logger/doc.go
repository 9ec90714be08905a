// Package logger provides the structured logging interface used by znum.
//
// It wraps zerolog with a small API: leveled messages, child loggers
// carrying fields, pretty console output on stderr and optional file output.
//
//	logger.Initialize(&cfg.Logging)
//	log := logger.GetLogger().WithField("document", "12345")
//	log.InfoWithFields("Page saved", map[string]interface{}{"page": 7})
//
// Key material must never be passed as a field; use LogKeyMaterial, which
// records lengths only.
//
// Tests use NewTestLogger to capture and inspect messages, or NewNopLogger
// to discard them.
package logger
