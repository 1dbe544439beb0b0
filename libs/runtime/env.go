package runtime

import (
	"os"
	"strings"
)

// Getenv returns the trimmed value of key, or fallback when it is unset or
// blank. Typed settings go through libs/config; this covers the few plain
// strings runtime reads itself, such as LOG_LEVEL.
func Getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
