// Package guard switches the binaries into test mode when imported by a test, so
// main() returns before dialing Redis or Postgres.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "SCHOOLFEES_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
