package keyspace

import (
	"strings"
	"testing"
)

func TestBucketPK_Deterministic(t *testing.T) {
	a := BucketPK("kv", "data-protection-keys")
	b := BucketPK("kv", "data-protection-keys")
	if a != b {
		t.Errorf("expected same key, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "bucket#") {
		t.Errorf("expected 'bucket#' prefix, got %q", a)
	}
	// "bucket#" + 32 hex chars
	if len(a) != len("bucket#")+32 {
		t.Errorf("expected 39 characters, got %d", len(a))
	}
}

func TestBucketPK_Distinct(t *testing.T) {
	tests := []struct {
		mount, path string
	}{
		{"kv", "keys"},
		{"kv", "other"},
		{"secret", "keys"},
		{"kvk", "eys"},
		{"kv\x00k", "eys"},
	}

	seen := make(map[string]string)
	for _, tt := range tests {
		pk := BucketPK(tt.mount, tt.path)
		if prev, ok := seen[pk]; ok {
			t.Errorf("collision between %q and %q/%q", prev, tt.mount, tt.path)
		}
		seen[pk] = tt.mount + "/" + tt.path
	}
}

func TestVersionSK(t *testing.T) {
	tests := []struct {
		version  int
		expected string
	}{
		{1, "v#0000000001"},
		{42, "v#0000000042"},
		{1234567890, "v#1234567890"},
	}

	for _, tt := range tests {
		if got := VersionSK(tt.version); got != tt.expected {
			t.Errorf("VersionSK(%d) = %q, want %q", tt.version, got, tt.expected)
		}
	}
}

func TestVersionSK_SortsInVersionOrder(t *testing.T) {
	if !(VersionSK(9) < VersionSK(10)) {
		t.Error("expected v9 to sort before v10")
	}
	if !(HeadSK < VersionSK(1)) {
		t.Error("expected HEAD to sort before versions")
	}
}

func TestParseVersionSK(t *testing.T) {
	tests := []struct {
		sk     string
		want   int
		wantOK bool
	}{
		{VersionSK(7), 7, true},
		{"v#0000000000", 0, false},
		{HeadSK, 0, false},
		{"v#abc", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseVersionSK(tt.sk)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseVersionSK(%q) = (%d, %v), want (%d, %v)", tt.sk, got, ok, tt.want, tt.wantOK)
		}
	}
}
