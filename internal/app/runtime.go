package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "STOCKLANE_TEST_MODE"

var testMode atomic.Bool

func init() { detectTestMode() }

// detectTestMode reads the STOCKLANE_TEST_MODE flag once.
func detectTestMode() {
	enabled, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(enabled)
}

// InTestMode reports whether the process runs with relaxed runtime checks.
func InTestMode() bool {
	return testMode.Load()
}

// RefreshTestMode re-reads the environment flag. Used by tests.
func RefreshTestMode() {
	detectTestMode()
}
