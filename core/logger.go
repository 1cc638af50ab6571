package core

// Logger is any leveled logging service.
// Implementations may inspect args for known types (eg. the logged in account)
// to attach extra context to the log entry.
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
