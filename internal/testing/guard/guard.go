package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("AGROHUB_TEST_MODE") == "" {
			_ = os.Setenv("AGROHUB_TEST_MODE", "1")
		}
	})
}
