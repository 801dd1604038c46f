package app

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// testModeEnv makes the binaries return before dialing Postgres or Redis.
const testModeEnv = "ODYSSEY_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	enabled, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(testModeEnv)))
	testModeFlag.Store(err == nil && enabled)
}

// InTestMode reports whether the binaries should skip startup side effects.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads the environment, for tests that toggle it.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
