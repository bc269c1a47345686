package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ameyarj/pica-testing-sub000/internal/campaign"
	"github.com/ameyarj/pica-testing-sub000/internal/graph"
	"github.com/ameyarj/pica-testing-sub000/internal/history"
	"github.com/ameyarj/pica-testing-sub000/internal/persist"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "picatest" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "picatest")
	}

	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, name := range []string{"run", "plan", "history", "clean", "config", "logs"} {
		if !cmdMap[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestParseConfigValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"scheduler.batch_size", "20", 20, false},
		{"scheduler.batch_size", "-1", nil, true},
		{"scheduler.batch_size", "ten", nil, true},
		{"scheduler.resume", "false", false, false},
		{"scheduler.resume", "no", nil, true},
		{"persistence.backend", "minio", "minio", false},
		{"persistence.backend", "s3", nil, true},
		{"executor.mode", "dry_run", "dry_run", false},
		{"logging.level", "verbose", nil, true},
		{"llm.model", "gpt-4o", "gpt-4o", false},
		{"tui.theme", "dark", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseConfigValue(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":              "(not set)",
		"abc":           "****",
		"sk-abcdef1234": "****1234",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDisplayLogs_Filters(t *testing.T) {
	lines := strings.Join([]string{
		`{"time":"2026-02-10T12:00:00Z","level":"INFO","msg":"batch started","platform":"google-docs","batch":1,"phase":"campaign"}`,
		`{"time":"2026-02-10T12:00:01Z","level":"WARN","msg":"oracle failed, using heuristics","platform":"google-docs","phase":"graph","reason":"timeout"}`,
		`{"time":"2026-02-10T12:00:02Z","level":"INFO","msg":"batch started","platform":"slack","batch":2,"phase":"campaign"}`,
		`not json`,
	}, "\n")

	tests := []struct {
		name   string
		filter logFilter
		tail   int
		want   []string
		absent []string
	}{
		{
			name:   "level",
			filter: logFilter{minLevel: levelPriority("warn")},
			want:   []string{"oracle failed", "reason=timeout"},
			absent: []string{"batch started"},
		},
		{
			name:   "platform",
			filter: logFilter{minLevel: -1, platform: "Slack"},
			want:   []string{"platform=slack", "batch=2"},
			absent: []string{"google-docs", "not json"},
		},
		{
			name:   "phase",
			filter: logFilter{minLevel: -1, phase: "graph"},
			want:   []string{"oracle failed"},
			absent: []string{"batch started"},
		},
		{
			name:   "tail keeps raw lines",
			filter: logFilter{minLevel: -1},
			tail:   1,
			want:   []string{"not json"},
			absent: []string{"batch started"},
		},
		{
			name:   "no match",
			filter: logFilter{minLevel: -1, batch: 9},
			want:   []string{"No matching log entries found."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := displayLogs(&out, strings.NewReader(lines), tt.tail, tt.filter); err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out.String(), w) {
					t.Errorf("output missing %q:\n%s", w, out.String())
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out.String(), a) {
					t.Errorf("output should not contain %q:\n%s", a, out.String())
				}
			}
		})
	}
}

func TestPrintHistory(t *testing.T) {
	h := history.New("google-docs")
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	at := 13
	h.Upsert(history.BatchRecord{BatchNumber: 1, ActionRange: "1-10", ActionCount: 10, SuccessCount: 9, DurationMS: 61000, Status: history.StatusCompleted}, now)
	h.Upsert(history.BatchRecord{BatchNumber: 2, ActionRange: "11-20", ActionCount: 10, SuccessCount: 3, Status: history.StatusInterrupted, InterruptedAt: &at}, now)

	var out bytes.Buffer
	printHistory(&out, h)
	for _, want := range []string{"2026-02-10", "batch 1", "9/10 ok", "1m1s", "interrupted at 14", "Next run continues batch 2 at action 14"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	printHistory(&out, history.New("slack"))
	if !strings.Contains(out.String(), "No batches recorded.") {
		t.Errorf("empty history output:\n%s", out.String())
	}
}

func TestPrintReport(t *testing.T) {
	r := &campaign.Report{
		RunID:        "run-1",
		GraphMode:    graph.ModeFallback,
		Repairs:      graph.Repairs{CycleEdges: 1},
		ResumeSource: persist.SourceInterrupt,
		StartIndex:   13,
		Batches: []campaign.BatchReport{
			{Number: 2, Start: 10, Size: 10, Executed: 7, Succeeded: 7, Resumed: true},
			{Number: 3, Start: 20, Size: 5, Executed: 2, Succeeded: 1, Interrupted: true, ResumeIndex: 22},
		},
		Executed:  9,
		Succeeded: 8,
	}
	var out bytes.Buffer
	printReport(&out, r)
	for _, want := range []string{"run-1", "fallback", "1 repair", "interrupt at action 14", "11-20", "interrupted at 23", "8/9 succeeded"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestKnownPlatforms(t *testing.T) {
	store, err := persist.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, key := range []string{"slack/history.json", "google-docs/history.json", "google-docs/context/batch-0001.json", "debug.log"} {
		if err := store.Save(ctx, key, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	got, err := knownPlatforms(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "google-docs,slack" {
		t.Errorf("knownPlatforms = %v", got)
	}
}

func TestRunHistoryClean_DryRun(t *testing.T) {
	stateDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PICATEST_PERSISTENCE_DIR", stateDir)
	t.Setenv("PICATEST_GRAPH_ORACLE_ENABLED", "false")

	catalogPath := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `platform: google-docs
actions:
  - id: delete_doc
    title: Delete Document
    model_name: documents
    path: /docs/{{documentId}}
  - id: create_doc
    title: Create Document
    model_name: documents
    path: /docs
  - id: get_doc
    title: Get Document
    model_name: documents
    path: /docs/{{documentId}}
`
	if err := os.WriteFile(catalogPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand(rootCmd, "run", catalogPath, "-p", "google-docs", "--dry-run", "--no-oracle")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1-3") || !strings.Contains(out, "3/3 succeeded") {
		t.Errorf("run output:\n%s", out)
	}

	out, err = executeCommand(rootCmd, "history", "-p", "google-docs")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "batch 1") || !strings.Contains(out, "Next run starts batch 2 at action 4") {
		t.Errorf("history output:\n%s", out)
	}

	out, err = executeCommand(rootCmd, "clean", "-p", "google-docs", "-f")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if !strings.Contains(out, "Cleaned google-docs") {
		t.Errorf("clean output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(stateDir, "google-docs", "history.json")); !os.IsNotExist(err) {
		t.Errorf("history.json should be gone, stat err = %v", err)
	}
}
