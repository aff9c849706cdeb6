package config

import "testing"

func TestDefaultFillsBSOLimits(t *testing.T) {
	cfg := Default()
	if cfg.BSOLimits.MaxPayloadBytes == 0 {
		t.Error("Default() left BSOLimits.MaxPayloadBytes zero")
	}
	if cfg.BSOLimits.MaxPostRecords == 0 {
		t.Error("Default() left BSOLimits.MaxPostRecords zero")
	}
	if cfg.Driver != "ql" {
		t.Errorf("Driver = %q, want ql", cfg.Driver)
	}
}

func TestIsEphemeral(t *testing.T) {
	cfg := Config{EphemeralCollections: []string{"tabs", "scratchpad"}}

	table := []struct {
		name string
		want bool
	}{
		{"tabs", true},
		{"scratchpad", true},
		{"bookmarks", false},
		{"", false},
		{"tabss", false},
	}
	for _, c := range table {
		if got := cfg.IsEphemeral(c.name); got != c.want {
			t.Errorf("IsEphemeral(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestShardForSingleShard(t *testing.T) {
	for _, uid := range []int64{0, 1, -5, 1000} {
		if got := ShardFor(uid, 1); got != 0 {
			t.Errorf("ShardFor(%d, 1) = %d, want 0", uid, got)
		}
		if got := ShardFor(uid, 0); got != 0 {
			t.Errorf("ShardFor(%d, 0) = %d, want 0", uid, got)
		}
	}
}

func TestShardForMultipleShards(t *testing.T) {
	table := []struct {
		uid       int64
		numShards int
		want      int
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 0},
		{5, 4, 1},
		{-1, 4, 3},
		{-4, 4, 0},
	}
	for _, c := range table {
		if got := ShardFor(c.uid, c.numShards); got != c.want {
			t.Errorf("ShardFor(%d, %d) = %d, want %d", c.uid, c.numShards, got, c.want)
		}
	}
}
