package persist

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ameyarj/pica-testing-sub000/internal/compress"
	"github.com/ameyarj/pica-testing-sub000/internal/errors"
	"github.com/ameyarj/pica-testing-sub000/internal/history"
	"github.com/ameyarj/pica-testing-sub000/internal/logging"
	"github.com/ameyarj/pica-testing-sub000/internal/registry"
)

// Defaults for the checkpoint and compression triggers.
const (
	DefaultCheckpointInterval   = 30 * time.Second
	DefaultCheckpointStride     = 5
	DefaultCompressionThreshold = 50000
)

// Checkpoint is a mid-batch snapshot of the registry.
type Checkpoint struct {
	Platform    string `json:"platform"`
	BatchNumber int    `json:"batch_number"`

	// ActionIndex is the 0-based position within the batch of the last
	// executed action.
	ActionIndex int `json:"action_index"`

	// GlobalIndex is the 0-based position of the same action in the full
	// sorted run.
	GlobalIndex int `json:"global_index"`

	TotalActions int                `json:"total_actions"`
	Context      *registry.Registry `json:"context"`

	// Outcomes holds the batch's executed actions up to and including
	// ActionIndex, so a batch cut short by a crash can still be recorded.
	Outcomes []compress.Outcome `json:"outcomes,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// NextGlobalIndex returns the global index of the first action the
// checkpoint does not cover.
func (c *Checkpoint) NextGlobalIndex() int {
	return c.GlobalIndex + 1
}

// Recovery describes how to continue an interrupted batch.
type Recovery struct {
	CanResume        bool   `json:"can_resume"`
	LastAction       string `json:"last_action,omitempty"`
	CompletedActions int    `json:"completed_actions"`
	TotalActions     int    `json:"total_actions"`

	// ResumeIndex is the 0-based global index of the first action not yet
	// executed.
	ResumeIndex int `json:"resume_index"`
}

// InterruptRecord captures a batch that stopped before finishing.
type InterruptRecord struct {
	Platform    string `json:"platform"`
	BatchNumber int    `json:"batch_number"`

	// Start is the 0-based global index of the batch's first action and
	// Size the number of actions the batch holds.
	Start int `json:"start"`
	Size  int `json:"size"`

	ExecutedActions []compress.Outcome `json:"executed_actions"`
	Context         *registry.Registry `json:"context"`
	Recovery        Recovery           `json:"recovery"`
	Reason          string             `json:"reason"`
	InterruptedAt   time.Time          `json:"interrupted_at"`
}

// BatchResult is everything recorded when a batch finishes.
type BatchResult struct {
	Platform    string
	BatchNumber int
	Start       int
	Size        int
	Outcomes    []compress.Outcome
	Context     *registry.Registry
	Duration    time.Duration
}

// SaveOutcome reports how a save went. Saves never fail outright; when the
// primary write fails only the history ledger is updated.
type SaveOutcome struct {
	// Key is the primary key written, empty if the write failed.
	Key string
	// Compressed is true when the context was stored in compact form.
	Compressed bool
	// HistoryOnly is true when the primary write failed.
	HistoryOnly bool
	// HistorySaved is true when the ledger was updated.
	HistorySaved bool
}

// Source identifies where resumed state came from.
type Source string

const (
	SourceNone       Source = "none"
	SourceInterrupt  Source = "interrupt"
	SourceCheckpoint Source = "checkpoint"
	SourceContext    Source = "context"
)

// ResumeState is the most authoritative prior state of a platform.
type ResumeState struct {
	Source      Source
	BatchNumber int
	Context     *registry.Registry
	Interrupt   *InterruptRecord
	Checkpoint  *Checkpoint
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrNop(l).WithPhase("persist") }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCheckpointInterval sets the time-based checkpoint trigger.
func WithCheckpointInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithCheckpointStride sets the index-based checkpoint trigger.
func WithCheckpointStride(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.stride = n
		}
	}
}

// WithCompressionThreshold sets the serialized size above which a completed
// batch context is stored compressed.
func WithCompressionThreshold(bytes int) Option {
	return func(m *Manager) { m.threshold = bytes }
}

// WithCompressor sets the compressor used for compact contexts.
func WithCompressor(c *compress.Compressor) Option {
	return func(m *Manager) { m.compressor = c }
}

// Manager persists and restores campaign state for any number of platforms.
// It assumes a single writer per platform.
type Manager struct {
	store      Store
	logger     *logging.Logger
	now        func() time.Time
	interval   time.Duration
	stride     int
	threshold  int
	compressor *compress.Compressor

	mu       sync.Mutex
	lastSave map[string]time.Time
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		logger:     logging.NopLogger(),
		now:        time.Now,
		interval:   DefaultCheckpointInterval,
		stride:     DefaultCheckpointStride,
		threshold:  DefaultCompressionThreshold,
		compressor: compress.New(compress.DefaultValuesPerType),
		lastSave:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// -----------------------------------------------------------------------------
// Checkpoints
// -----------------------------------------------------------------------------

// shouldCheckpoint applies the rate limit: the first call for a platform,
// the interval elapsing, every stride-th index, and the last action of a
// batch all trigger a save.
func (m *Manager) shouldCheckpoint(platform string, index, total int, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, seen := m.lastSave[platform]
	due := !seen ||
		(m.interval > 0 && now.Sub(last) > m.interval) ||
		index%m.stride == 0 ||
		index == total-1
	if !due {
		return false
	}
	m.lastSave[platform] = now
	return true
}

// SaveIncremental records a checkpoint if the rate limit allows it and
// reports whether one was written. Failures are logged and reported as not
// saved.
func (m *Manager) SaveIncremental(ctx context.Context, cp Checkpoint) bool {
	now := m.now()
	if !m.shouldCheckpoint(cp.Platform, cp.ActionIndex, cp.TotalActions, now) {
		return false
	}

	cp.SavedAt = now
	key := CheckpointKey(cp.Platform, cp.BatchNumber, cp.ActionIndex)
	if err := m.saveJSON(ctx, key, cp); err != nil {
		logFailure(m.logger, "checkpoint save failed", err,
			"platform", cp.Platform,
			"batch", cp.BatchNumber,
			"action_index", cp.ActionIndex,
		)
		return false
	}
	m.logger.Debug("checkpoint saved", "key", key, "global_index", cp.GlobalIndex)
	return true
}

// LoadLatestCheckpoint returns the checkpoint with the highest batch number
// and action index. Unreadable checkpoints are skipped.
func (m *Manager) LoadLatestCheckpoint(ctx context.Context, platform string) (*Checkpoint, bool) {
	keys, err := m.store.List(ctx, dirPrefix(PlatformPrefix(platform), checkpointDir))
	if err != nil {
		m.logger.Warn("listing checkpoints failed", "platform", platform, "error", err.Error())
		return nil, false
	}

	type entry struct {
		key           string
		batch, action int
	}
	var entries []entry
	for _, k := range keys {
		if b, a, ok := parseCheckpointKey(k); ok {
			entries = append(entries, entry{k, b, a})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].batch != entries[j].batch {
			return entries[i].batch > entries[j].batch
		}
		return entries[i].action > entries[j].action
	})

	for _, e := range entries {
		var cp Checkpoint
		if err := m.loadJSON(ctx, e.key, &cp); err != nil {
			m.logger.Warn("skipping unreadable checkpoint", "key", e.key, "error", err.Error())
			continue
		}
		return &cp, true
	}
	return nil, false
}

// ClearCheckpoints removes every checkpoint of a batch.
func (m *Manager) ClearCheckpoints(ctx context.Context, platform string, batchNumber int) error {
	return m.deletePrefix(ctx, CheckpointPrefix(platform, batchNumber))
}

// -----------------------------------------------------------------------------
// Completed batches
// -----------------------------------------------------------------------------

// SaveBatchResult stores the batch's final context, compressed when its
// serialized form exceeds the threshold, then removes the batch's
// checkpoints and interrupt record and marks it completed in the history.
func (m *Manager) SaveBatchResult(ctx context.Context, res BatchResult) SaveOutcome {
	log := m.logger.WithPlatform(res.Platform).WithBatch(res.BatchNumber)
	var out SaveOutcome

	reg := res.Context
	if reg == nil {
		reg = registry.New(0)
	}

	fullKey := ContextKey(res.Platform, res.BatchNumber)
	compactKey := CompactContextKey(res.Platform, res.BatchNumber)

	data, err := json.Marshal(reg)
	if err != nil {
		log.Error("encoding batch context failed", "error", err.Error())
		out.HistoryOnly = true
	} else {
		key, stale, payload := fullKey, compactKey, data
		if len(data) > m.threshold {
			cc := m.compressor.Compress(reg, res.Outcomes, res.Platform, res.BatchNumber)
			payload, err = json.Marshal(cc)
			key, stale = compactKey, fullKey
			out.Compressed = true
		}
		if err == nil {
			err = m.store.Save(ctx, key, payload)
		}
		if err != nil {
			log.Warn("batch context save failed, recording history only",
				"key", key, "error", err.Error())
			out.HistoryOnly = true
			out.Compressed = false
		} else {
			out.Key = key
			m.deleteQuiet(ctx, stale)
			log.Info("batch context saved",
				"key", key,
				"bytes", len(payload),
				"raw_bytes", len(data),
				"compressed", out.Compressed,
			)
		}
	}

	if err := m.ClearCheckpoints(ctx, res.Platform, res.BatchNumber); err != nil {
		log.Warn("clearing checkpoints failed", "error", err.Error())
	}
	m.deleteQuiet(ctx, InterruptKey(res.Platform, res.BatchNumber))

	succeeded := 0
	for _, o := range res.Outcomes {
		if o.Success {
			succeeded++
		}
	}
	out.HistorySaved = m.recordHistory(ctx, res.Platform, history.BatchRecord{
		BatchNumber:  res.BatchNumber,
		ActionRange:  history.FormatRange(res.Start, res.Size),
		ActionCount:  res.Size,
		SuccessCount: succeeded,
		DurationMS:   res.Duration.Milliseconds(),
		Status:       history.StatusCompleted,
	})
	return out
}

// LoadBatchContext returns a completed batch's context, preferring the
// compact form over the full one.
func (m *Manager) LoadBatchContext(ctx context.Context, platform string, batchNumber int) (*registry.Registry, bool) {
	var cc compress.CompactContext
	compactKey := CompactContextKey(platform, batchNumber)
	switch err := m.loadJSON(ctx, compactKey, &cc); {
	case err == nil:
		return compress.Expand(&cc), true
	case !errors.Is(err, ErrNotFound):
		m.logger.Warn("unreadable compact context", "key", compactKey, "error", err.Error())
	}

	reg := registry.New(0)
	fullKey := ContextKey(platform, batchNumber)
	switch err := m.loadJSON(ctx, fullKey, reg); {
	case err == nil:
		return reg, true
	case !errors.Is(err, ErrNotFound):
		m.logger.Warn("unreadable batch context", "key", fullKey, "error", err.Error())
	}
	return nil, false
}

// latestContextBatch returns the highest batch number with a stored context.
func (m *Manager) latestContextBatch(ctx context.Context, platform string) (int, bool) {
	keys, err := m.store.List(ctx, dirPrefix(PlatformPrefix(platform), contextDir))
	if err != nil {
		m.logger.Warn("listing contexts failed", "platform", platform, "error", err.Error())
		return 0, false
	}
	best, found := 0, false
	for _, k := range keys {
		if n, _, ok := parseContextKey(k); ok && (!found || n > best) {
			best, found = n, true
		}
	}
	return best, found
}

// -----------------------------------------------------------------------------
// Interrupts
// -----------------------------------------------------------------------------

// SaveInterrupt overwrites the batch's interrupt record and marks the batch
// interrupted in the history.
func (m *Manager) SaveInterrupt(ctx context.Context, rec InterruptRecord) SaveOutcome {
	log := m.logger.WithPlatform(rec.Platform).WithBatch(rec.BatchNumber)
	var out SaveOutcome

	if rec.InterruptedAt.IsZero() {
		rec.InterruptedAt = m.now()
	}
	key := InterruptKey(rec.Platform, rec.BatchNumber)
	if err := m.saveJSON(ctx, key, rec); err != nil {
		err = errors.NewPersistenceError("save interrupt", err).WithKey(key).WithSeverity(errors.SeverityCritical)
		logFailure(log, "interrupt save failed, recording history only", err)
		out.HistoryOnly = true
	} else {
		out.Key = key
		log.Info("interrupt saved",
			"key", key,
			"resume_index", rec.Recovery.ResumeIndex,
			"completed", rec.Recovery.CompletedActions,
			"reason", rec.Reason,
		)
	}

	succeeded := 0
	for _, o := range rec.ExecutedActions {
		if o.Success {
			succeeded++
		}
	}
	resumeAt := rec.Recovery.ResumeIndex
	out.HistorySaved = m.recordHistory(ctx, rec.Platform, history.BatchRecord{
		BatchNumber:   rec.BatchNumber,
		ActionRange:   history.FormatRange(rec.Start, rec.Size),
		ActionCount:   rec.Size,
		SuccessCount:  succeeded,
		Status:        history.StatusInterrupted,
		InterruptedAt: &resumeAt,
		Timestamp:     rec.InterruptedAt,
	})
	return out
}

// LoadInterrupt returns the interrupt record with the highest batch number.
func (m *Manager) LoadInterrupt(ctx context.Context, platform string) (*InterruptRecord, bool) {
	keys, err := m.store.List(ctx, dirPrefix(PlatformPrefix(platform), interruptDir))
	if err != nil {
		m.logger.Warn("listing interrupts failed", "platform", platform, "error", err.Error())
		return nil, false
	}

	type entry struct {
		key   string
		batch int
	}
	var entries []entry
	for _, k := range keys {
		if n, ok := parseInterruptKey(k); ok {
			entries = append(entries, entry{k, n})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].batch > entries[j].batch })

	for _, e := range entries {
		var rec InterruptRecord
		if err := m.loadJSON(ctx, e.key, &rec); err != nil {
			m.logger.Warn("skipping unreadable interrupt", "key", e.key, "error", err.Error())
			continue
		}
		return &rec, true
	}
	return nil, false
}

// LoadResumeState returns the most authoritative prior state: an interrupt
// record, then the latest checkpoint, then the latest completed context.
// Records left behind by batches that a later batch has superseded are
// ignored: an interrupt must be at least as new as the latest checkpoint and
// newer than the latest completed context, and a checkpoint newer than that
// context.
func (m *Manager) LoadResumeState(ctx context.Context, platform string) ResumeState {
	log := m.logger.WithPlatform(platform)
	ctxBatch, hasCtx := m.latestContextBatch(ctx, platform)
	cp, hasCP := m.LoadLatestCheckpoint(ctx, platform)
	if hasCP && hasCtx && cp.BatchNumber <= ctxBatch {
		log.Warn("ignoring stale checkpoint", "batch", cp.BatchNumber, "completed_batch", ctxBatch)
		hasCP = false
	}

	if rec, ok := m.LoadInterrupt(ctx, platform); ok {
		switch {
		case hasCtx && rec.BatchNumber <= ctxBatch:
			log.Warn("ignoring stale interrupt record", "batch", rec.BatchNumber, "completed_batch", ctxBatch)
		case hasCP && rec.BatchNumber < cp.BatchNumber:
			log.Warn("ignoring stale interrupt record", "batch", rec.BatchNumber, "checkpoint_batch", cp.BatchNumber)
		default:
			return ResumeState{
				Source:      SourceInterrupt,
				BatchNumber: rec.BatchNumber,
				Context:     orEmpty(rec.Context),
				Interrupt:   rec,
			}
		}
	}
	if hasCP {
		return ResumeState{
			Source:      SourceCheckpoint,
			BatchNumber: cp.BatchNumber,
			Context:     orEmpty(cp.Context),
			Checkpoint:  cp,
		}
	}
	if hasCtx {
		if reg, ok := m.LoadBatchContext(ctx, platform, ctxBatch); ok {
			return ResumeState{Source: SourceContext, BatchNumber: ctxBatch, Context: reg}
		}
	}
	return ResumeState{Source: SourceNone, Context: registry.New(0)}
}

// ClearResumeState removes every checkpoint and interrupt record of a
// platform, leaving completed contexts and the history in place. A run that
// starts over calls it so older partial batches cannot be resumed into.
func (m *Manager) ClearResumeState(ctx context.Context, platform string) error {
	prefix := PlatformPrefix(platform)
	return errors.Join(
		m.deletePrefix(ctx, dirPrefix(prefix, checkpointDir)),
		m.deletePrefix(ctx, dirPrefix(prefix, interruptDir)),
	)
}

func orEmpty(r *registry.Registry) *registry.Registry {
	if r == nil {
		return registry.New(0)
	}
	return r
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// LoadHistory returns the platform's ledger. A missing or unreadable ledger
// yields an empty one.
func (m *Manager) LoadHistory(ctx context.Context, platform string) *history.TestingHistory {
	h := history.New(platform)
	key := HistoryKey(platform)
	if err := m.loadJSON(ctx, key, h); err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("unreadable history, starting fresh", "key", key, "error", err.Error())
		}
		return history.New(platform)
	}
	if h.Platform == "" {
		h.Platform = platform
	}
	return h
}

// recordHistory upserts rec into the ledger and reports whether it was saved.
func (m *Manager) recordHistory(ctx context.Context, platform string, rec history.BatchRecord) bool {
	h := m.LoadHistory(ctx, platform)
	h.Upsert(rec, m.now())
	if err := m.saveJSON(ctx, HistoryKey(platform), h); err != nil {
		err = errors.NewPersistenceError("save history", err).WithPlatform(platform).WithSeverity(errors.SeverityCritical)
		logFailure(m.logger, "history save failed", err,
			"platform", platform,
			"batch", rec.BatchNumber,
		)
		return false
	}
	return true
}

// ClearPlatform removes all stored state of a platform.
func (m *Manager) ClearPlatform(ctx context.Context, platform string) error {
	m.mu.Lock()
	delete(m.lastSave, platform)
	m.mu.Unlock()
	return m.deletePrefix(ctx, PlatformPrefix(platform))
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func (m *Manager) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.NewPersistenceError("encode", err).WithKey(key).WithRetryable(false)
	}
	if err := m.store.Save(ctx, key, data); err != nil {
		return errors.NewPersistenceError("write", err).WithKey(key).WithOp("save")
	}
	return nil
}

func (m *Manager) loadJSON(ctx context.Context, key string, v any) error {
	data, err := m.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.NewPersistenceError("read", err).WithKey(key).WithOp("load")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewPersistenceError("decode", err).WithKey(key).WithOp("load").WithRetryable(false)
	}
	return nil
}

// logFailure logs err at error level when it is critical and at warn level
// otherwise.
func logFailure(log *logging.Logger, msg string, err error, args ...any) {
	sev := errors.GetSeverity(err)
	args = append(args, "error", err.Error(), "severity", sev.String())
	if sev >= errors.SeverityCritical {
		log.Error(msg, args...)
		return
	}
	log.Warn(msg, args...)
}

func (m *Manager) deleteQuiet(ctx context.Context, key string) {
	if err := m.store.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("delete failed", "key", key, "error", err.Error())
	}
}

func (m *Manager) deletePrefix(ctx context.Context, prefix string) error {
	keys, err := m.store.List(ctx, prefix)
	if err != nil {
		return errors.NewPersistenceError("list", err).WithKey(prefix).WithOp("list")
	}
	var errs []error
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.NewPersistenceError("delete", errors.Join(errs...)).WithKey(prefix).WithOp("delete")
	}
	return nil
}

// dirPrefix joins a prefix ending in "/" with a directory, keeping the trailing
// separator so listings match only that directory.
func dirPrefix(prefix, dir string) string {
	return prefix + dir + "/"
}
