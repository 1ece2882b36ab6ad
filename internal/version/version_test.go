package version

import (
	"regexp"
	"testing"
)

func TestGet(t *testing.T) {
	got := Get()
	if !regexp.MustCompile(`^\d+\.\d+\.\d+$`).MatchString(got) {
		t.Errorf("Get() = %q, want a semantic version", got)
	}
}
