// Package guard is imported for its side effect: test binaries default to
// ODYSSEY_TEST_MODE=1 unless the caller already chose a value.
package guard

import "os"

func init() {
	if _, set := os.LookupEnv("ODYSSEY_TEST_MODE"); !set {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
	}
}
