package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv turns both binaries into a no-op start, so their packages can be
// exercised without Postgres, Redis or an SMTP relay.
const TestModeEnv = "ODYSSEY_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether TestModeEnv holds a true value. The answer is
// cached until RefreshTestMode.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads TestModeEnv and returns the new setting.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(&on)
	return on
}
