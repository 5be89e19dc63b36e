// Package testing prepares the process environment for tests that start the
// binaries. Import it for its side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
)

var once sync.Once

var testSecrets = map[string]string{
	"TOKEN_SECRET":         "test-access-secret",
	"REFRESH_TOKEN_SECRET": "test-refresh-secret",
	"GLOBAL_SECRET":        "test-global-secret",
}

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv(app.TestModeEnv, "1")
		for key, value := range testSecrets {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
