package server

import (
	"os"
	"testing"

	"go.uber.org/zap"
)

// TestMain sets up package-level test state once before any test runs.
// This avoids data races from individual tests writing to package-level
// loggers while goroutines from previous tests may still be reading them.
func TestMain(m *testing.M) {
	// Initialize loggers once. No test should modify these after this point
	errorLog = zap.NewNop().Sugar()
	debugLog = zap.NewNop().Sugar()

	os.Exit(m.Run())
}
