package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	got := String("buggd")
	if !strings.HasPrefix(got, "buggd ") {
		t.Errorf("String() = %q, want buggd prefix", got)
	}
	if !strings.Contains(got, Version) {
		t.Errorf("String() = %q, missing version %q", got, Version)
	}
}
