// Package guard switches the process into test mode when imported, so
// config loading skips .env files and binaries refuse to start servers.
//
// Import it for side effects from tests that reach app.LoadConfig.
package guard

import "os"

// Env is the variable app.InTestMode reads.
const Env = "ODYSSEY_TEST_MODE"

func init() {
	if os.Getenv(Env) == "" {
		_ = os.Setenv(Env, "1")
	}
}
