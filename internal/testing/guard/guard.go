package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("DCOPS_TEST_MODE") == "" {
			_ = os.Setenv("DCOPS_TEST_MODE", "1")
		}
	})
}
