package corestore

import "go.uber.org/zap"

// newNopLogger returns a SugaredLogger that discards everything, used
// as the default when a caller constructs a component without
// supplying one explicitly. Components always take a logger as a
// constructor argument — never a package-level global — so that
// multiple Databases/Buffers in one process can be told apart in logs.
func newNopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// withLogger returns log if non-nil, otherwise a no-op logger. Every
// constructor in this package accepts *zap.SugaredLogger and routes it
// through this helper so nil is always a safe default.
func withLogger(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return newNopLogger()
	}
	return log
}
