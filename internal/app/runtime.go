package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv switches the server onto the in-memory demo company.
const TestModeEnv = "ODYSSEY_TEST_MODE"

// testMode caches the flag: 0 unread, 1 off, 2 on.
var testMode atomic.Int32

// InTestMode reports whether the process should skip Postgres and Redis.
func InTestMode() bool {
	switch testMode.Load() {
	case 1:
		return false
	case 2:
		return true
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on := os.Getenv(TestModeEnv) == "1"
	if on {
		testMode.Store(2)
	} else {
		testMode.Store(1)
	}
	return on
}
