package model

import (
	"testing"
	"time"
)

func tp(t time.Time) *time.Time { return &t }

func TestAutoReplyActiveWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		s    *UserSettings
		want bool
	}{
		{"nil settings", nil, false},
		{"disabled", &UserSettings{AutoReplyEnabled: false}, false},
		{"enabled no window", &UserSettings{AutoReplyEnabled: true}, true},
		{"inside window", &UserSettings{
			AutoReplyEnabled: true,
			AutoReplyStart:   tp(now.Add(-time.Hour)),
			AutoReplyEnd:     tp(now.Add(time.Hour)),
		}, true},
		{"before start", &UserSettings{
			AutoReplyEnabled: true,
			AutoReplyStart:   tp(now.Add(time.Minute)),
		}, false},
		{"after end", &UserSettings{
			AutoReplyEnabled: true,
			AutoReplyEnd:     tp(now.Add(-time.Minute)),
		}, false},
		{"open start", &UserSettings{
			AutoReplyEnabled: true,
			AutoReplyEnd:     tp(now.Add(time.Minute)),
		}, true},
	}
	for _, c := range cases {
		if got := c.s.AutoReplyActive(now); got != c.want {
			t.Fatalf("%s: AutoReplyActive=%v want %v", c.name, got, c.want)
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings("u1")
	if s.UserID != "u1" {
		t.Fatalf("user=%q", s.UserID)
	}
	if !s.NotificationsEnabled {
		t.Fatalf("notifications should default on")
	}
	if s.DarkMode {
		t.Fatalf("dark mode should default off")
	}
	if s.FontSize != 14 || s.FontFamily != "sans-serif" {
		t.Fatalf("font defaults wrong: %d %q", s.FontSize, s.FontFamily)
	}
	if s.AutoReplyEnabled {
		t.Fatalf("auto reply should default off")
	}
}
