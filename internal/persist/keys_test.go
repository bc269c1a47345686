package persist

import "testing"

func TestKeyLayout(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"prefix", PlatformPrefix("Google Docs"), "google-docs/"},
		{"history", HistoryKey("Google Docs"), "google-docs/history.json"},
		{"context", ContextKey("slack", 3), "slack/context/batch-0003.json"},
		{"compact", CompactContextKey("slack", 3), "slack/context/batch-0003.compact.json"},
		{"checkpoint prefix", CheckpointPrefix("slack", 12), "slack/checkpoints/batch-0012/"},
		{"checkpoint", CheckpointKey("slack", 12, 4), "slack/checkpoints/batch-0012/action-0004.json"},
		{"interrupt", InterruptKey("slack", 7), "slack/interrupts/batch-0007.json"},
		{"escaping platform", HistoryKey("../../etc"), "etc/history.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseContextKey(t *testing.T) {
	tests := []struct {
		key     string
		n       int
		compact bool
		ok      bool
	}{
		{ContextKey("a", 3), 3, false, true},
		{CompactContextKey("a", 14), 14, true, true},
		{"a/context/batch-x.json", 0, false, false},
		{"a/context/notes.txt", 0, false, false},
	}
	for _, tt := range tests {
		n, compact, ok := parseContextKey(tt.key)
		if n != tt.n || compact != tt.compact || ok != tt.ok {
			t.Errorf("parseContextKey(%q) = %d, %v, %v", tt.key, n, compact, ok)
		}
	}
}

func TestParseCheckpointKey(t *testing.T) {
	b, a, ok := parseCheckpointKey(CheckpointKey("docs", 2, 9))
	if !ok || b != 2 || a != 9 {
		t.Errorf("parseCheckpointKey = %d, %d, %v", b, a, ok)
	}
	if _, _, ok := parseCheckpointKey("docs/checkpoints/batch-0002/notes.json"); ok {
		t.Error("expected non-checkpoint file to be rejected")
	}
	if _, _, ok := parseCheckpointKey("docs/checkpoints/other/action-0001.json"); ok {
		t.Error("expected unnumbered batch directory to be rejected")
	}
}

func TestParseInterruptKey(t *testing.T) {
	if n, ok := parseInterruptKey(InterruptKey("docs", 5)); !ok || n != 5 {
		t.Errorf("parseInterruptKey = %d, %v", n, ok)
	}
	if _, ok := parseInterruptKey("docs/interrupts/batch--1.json"); ok {
		t.Error("negative batch number accepted")
	}
}
