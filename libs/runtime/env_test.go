package runtime

import (
	"log/slog"
	"testing"
)

func TestGetenvTrimsAndFallsBack(t *testing.T) {
	t.Setenv("STUDIOBOOK_TEST_VALUE", "  debug ")
	if got := Getenv("STUDIOBOOK_TEST_VALUE", "info"); got != "debug" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	t.Setenv("STUDIOBOOK_TEST_VALUE", "   ")
	if got := Getenv("STUDIOBOOK_TEST_VALUE", "info"); got != "info" {
		t.Fatalf("expected fallback for blank value, got %q", got)
	}
}

func TestLogLevelFromPaddedEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", " warn\n")
	if got := ParseLevel(Getenv("LOG_LEVEL", "info")); got != slog.LevelWarn {
		t.Fatalf("expected warn, got %v", got)
	}
}
