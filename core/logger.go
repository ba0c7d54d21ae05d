package core

// Logger is the application logger.
// args may contain errors, map[string]interface{} extras and at most one Caller:
// the identity of whoever triggered the logged event.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Caller identifies the account on whose behalf an operation runs.
// It is passed explicitly to collaborators (logger, audit trail) that need it.
type Caller struct {
	ID    string
	Name  string
	Email string
}

func (c Caller) IsZero() bool { return c.ID == "" }

// NopLogger discards everything. Useful in tests.
type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}
