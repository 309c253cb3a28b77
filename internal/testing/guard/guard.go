// Package guard switches the process into test mode when imported, so
// binaries exercised from tests return before dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CONSOLBATCH_TEST_MODE") == "" {
			_ = os.Setenv("CONSOLBATCH_TEST_MODE", "1")
		}
	})
}
