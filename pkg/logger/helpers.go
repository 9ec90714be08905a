package logger

import "fmt"

// LogRequest logs a completed reader request
func LogRequest(l Logger, method, url string, statusCode int, durationMs float64) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	switch {
	case statusCode >= 500:
		l.ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		l.WarnWithFields("HTTP request client error", fields)
	default:
		l.DebugWithFields("HTTP request completed", fields)
	}
}

// LogPage logs the outcome of one page of a document
func LogPage(l Logger, documentID string, page int, outcome string, err error) {
	entry := l.WithFields(map[string]interface{}{
		"document": documentID,
		"page":     page,
		"outcome":  outcome,
	})

	if err != nil {
		entry.WithError(err).Error("Page failed")
		return
	}
	entry.Debug("Page processed")
}

// LogKeyMaterial logs that key material is present without logging its value
func LogKeyMaterial(l Logger, key, keyID string) {
	l.DebugWithFields("Key material resolved", map[string]interface{}{
		"key_length":    len(key),
		"key_id_length": len(keyID),
	})
}

// LogProgress logs document progress as a percentage
func LogProgress(l Logger, documentID string, done, total int) {
	percentage := 0.0
	if total > 0 {
		percentage = float64(done) / float64(total) * 100
	}

	l.WithFields(map[string]interface{}{
		"document":   documentID,
		"done":       done,
		"total":      total,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Info("Download progress")
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string)                                   {}
func (nopLogger) Info(string)                                    {}
func (nopLogger) Warn(string)                                    {}
func (nopLogger) Error(string)                                   {}
func (n nopLogger) WithField(string, interface{}) Logger         { return n }
func (n nopLogger) WithFields(map[string]interface{}) Logger     { return n }
func (n nopLogger) WithError(error) Logger                       { return n }
func (nopLogger) DebugWithFields(string, map[string]interface{}) {}
func (nopLogger) InfoWithFields(string, map[string]interface{})  {}
func (nopLogger) WarnWithFields(string, map[string]interface{})  {}
func (nopLogger) ErrorWithFields(string, map[string]interface{}) {}
