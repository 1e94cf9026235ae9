package observability

import (
	"strings"
	"testing"
)

func TestSanitizeRouteStripsControlCharacters(t *testing.T) {
	got := SanitizeRoute("/cart/add\x00\x1b[31m")
	if got != "/cart/add[31m" {
		t.Fatalf("expected control characters removed, got %q", got)
	}
}

func TestSanitizeRouteEmptyDefaultsToSlash(t *testing.T) {
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("expected /, got %q", got)
	}
}

func TestSanitizeUserIDCapsLength(t *testing.T) {
	long := strings.Repeat("u", 200)
	got := SanitizeUserID(long)
	if len(got) != maxUserIDLen {
		t.Fatalf("expected %d characters, got %d", maxUserIDLen, len(got))
	}
}
