package buildinfo

import (
	"strings"
	"testing"
)

func TestInfoKeys(t *testing.T) {
	info := Info()
	for _, key := range []string{"version", "git_commit", "go_version", "uptime"} {
		if _, ok := info[key]; !ok {
			t.Errorf("Info() missing key %q", key)
		}
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "Jarvis/"+Version) {
		t.Errorf("UserAgent() = %q, want prefix %q", ua, "Jarvis/"+Version)
	}
}

func TestStringMentionsVersion(t *testing.T) {
	if s := String(); !strings.Contains(s, Version) {
		t.Errorf("String() = %q, missing version %q", s, Version)
	}
}
