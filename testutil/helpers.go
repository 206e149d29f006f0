package testutil

import (
	"testing"

	"go.uber.org/zap"
)

// Logger returns a development logger when testing verbosely and a no-op
// logger otherwise.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	if !testing.Verbose() {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return logger
}
