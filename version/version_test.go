package version

import (
	"testing"
	"time"
)

func stamp(t *testing.T, v, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = v, commit, built
}

func TestGetDefaults(t *testing.T) {
	stamp(t, "dev", "", "")
	info := Get()
	if info.Version != "dev" {
		t.Errorf("expected version 'dev', got %q", info.Version)
	}
	if info.Release {
		t.Error("dev should not be a release")
	}
}

func TestGetStamped(t *testing.T) {
	stamp(t, "1.4.0", "abc1234def", "2026-03-01T10:30:00Z")
	info := Get()
	if !info.Release {
		t.Error("1.4.0 should be a release")
	}
	if info.Commit != "abc1234" {
		t.Errorf("expected commit truncated to 7, got %q", info.Commit)
	}
	want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	if !info.BuildTime.Equal(want) {
		t.Errorf("expected build time %s, got %s", want, info.BuildTime)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "dev"}, "dev"},
		{Info{Version: "1.4.0", Commit: "abc1234"}, "1.4.0-abc1234"},
		{Info{Version: "1.4.0", Commit: "abc1234", Dirty: true}, "1.4.0-abc1234-dirty"},
	}
	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
