package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ameyarj/pica-testing-sub000/internal/config"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View campaign logs",
	Long: `View and filter the campaign debug log.

Examples:
  # Show the last 50 entries
  picatest logs

  # Only one platform's warnings and errors
  picatest logs -p google-docs --level warn

  # One batch, everything
  picatest logs -p google-docs --batch 3 -n 0

  # Follow logs in real-time
  picatest logs -f

  # Search for specific patterns
  picatest logs --grep "fallback|cycle"`,
	RunE: runLogs,
}

var (
	logsPlatform string
	logsBatch    int
	logsPhase    string
	logsTail     int
	logsFollow   bool
	logsLevel    string
	logsSince    string
	logsGrep     string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsPlatform, "platform", "p", "", "Only entries for this platform")
	logsCmd.Flags().IntVar(&logsBatch, "batch", 0, "Only entries for this batch number")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries from this phase (graph, oracle, campaign, persist, execute, resume)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Msg      string         `json:"msg"`
	Platform string         `json:"platform,omitempty"`
	Batch    int            `json:"batch,omitempty"`
	Phase    string         `json:"phase,omitempty"`
	Extra    map[string]any `json:"-"`
}

// UnmarshalJSON implements custom unmarshaling to capture extra fields
func (e *logEntry) UnmarshalJSON(data []byte) error {
	// First, unmarshal known fields using a type alias to avoid recursion
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "platform", "batch", "phase"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects entries to display.
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	platform string
	batch    int
	phase    string
}

var fieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))

func levelStyle(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return mutedStyle
	case logging.LevelWarn:
		return warningStyle
	case logging.LevelError:
		return errorStyle
	default:
		return fieldStyle
	}
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	return slices.Index(logging.ValidLevels(), strings.ToUpper(level))
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry) string {
	var sb strings.Builder

	sb.WriteString(mutedStyle.Render("[" + entry.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle(entry.Level).Render("[" + strings.ToUpper(entry.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	field := func(key string, value any) {
		sb.WriteString(" ")
		sb.WriteString(fieldStyle.Render(key + "="))
		sb.WriteString(util.TruncateString(fmt.Sprint(value), 200))
	}
	if entry.Platform != "" {
		field("platform", entry.Platform)
	}
	if entry.Batch != 0 {
		field("batch", entry.Batch)
	}
	if entry.Phase != "" {
		field("phase", entry.Phase)
	}

	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		field(k, entry.Extra[k])
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logPath := filepath.Join(cfg.Persistence.ResolveDir(), logging.LogFileName)
	out := cmd.OutOrStdout()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No logs found.")
		fmt.Fprintln(out, "Logs are stored at:", logPath)
		return nil
	}

	filter := logFilter{
		minLevel: -1,
		platform: logsPlatform,
		batch:    logsBatch,
		phase:    logsPhase,
	}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		duration, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-duration)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
		filter.grep = re
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return followLogs(ctx, out, logPath, filter)
	}

	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()
	return displayLogs(out, file, logsTail, filter)
}

// displayLogs reads log lines from r and writes the filtered, formatted
// entries to w, keeping only the last tail entries when tail is positive.
func displayLogs(w io.Writer, r io.Reader, tail int, filter logFilter) error {
	var entries []string
	scanner := bufio.NewScanner(r)

	// Increase buffer size for potentially long log lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if formatted, ok := renderLine(line, filter); ok {
			entries = append(entries, formatted)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	// Apply tail limit
	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, entry := range entries {
		fmt.Fprintln(w, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No matching log entries found.")
	}
	return nil
}

// renderLine parses and filters one log line. Lines that are not JSON are
// shown raw unless a structured filter is active.
func renderLine(line string, filter logFilter) (string, bool) {
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		if filter.platform != "" || filter.batch != 0 || filter.phase != "" {
			return "", false
		}
		return line, true
	}
	if !filter.passes(&entry) {
		return "", false
	}
	return formatLogEntry(&entry), true
}

// followLogs implements tail -f behavior for the log file
func followLogs(ctx context.Context, w io.Writer, logPath string, filter logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(w, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("error reading log file: %w", err)
			}
			// No new data, wait briefly and try again
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if formatted, ok := renderLine(line, filter); ok {
			fmt.Fprintln(w, formatted)
		}
	}
}

// passes checks if a log entry passes all filter criteria
func (f logFilter) passes(entry *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.platform != "" && util.Slug(entry.Platform) != util.Slug(f.platform) {
		return false
	}
	if f.batch != 0 && entry.Batch != f.batch {
		return false
	}
	if f.phase != "" && !strings.EqualFold(entry.Phase, f.phase) {
		return false
	}

	// Grep filter - search in message and extra fields
	if f.grep != nil {
		searchText := entry.Msg
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprint(v)
		}
		if !f.grep.MatchString(searchText) {
			return false
		}
	}
	return true
}
