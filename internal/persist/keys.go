package persist

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/ameyarj/pica-testing-sub000/internal/util"
)

// Key layout, per platform slug:
//
//	<slug>/history.json
//	<slug>/context/batch-0003.json
//	<slug>/context/batch-0003.compact.json
//	<slug>/checkpoints/batch-0003/action-0004.json
//	<slug>/interrupts/batch-0003.json
const (
	historyFile   = "history.json"
	contextDir    = "context"
	checkpointDir = "checkpoints"
	interruptDir  = "interrupts"
	compactSuffix = ".compact.json"
	jsonSuffix    = ".json"
	batchPrefix   = "batch-"
	actionPrefix  = "action-"
	lockFile      = "run.lock"
)

// PlatformPrefix returns the key prefix under which all of a platform's state
// is stored, including the trailing separator.
func PlatformPrefix(platform string) string {
	return util.Slug(platform) + "/"
}

// HistoryKey returns the key of the platform's testing history.
func HistoryKey(platform string) string {
	return path.Join(util.Slug(platform), historyFile)
}

func batchName(batchNumber int) string {
	return fmt.Sprintf("%s%04d", batchPrefix, batchNumber)
}

// ContextKey returns the key of a completed batch's full context.
func ContextKey(platform string, batchNumber int) string {
	return path.Join(util.Slug(platform), contextDir, batchName(batchNumber)+jsonSuffix)
}

// CompactContextKey returns the key of a completed batch's compressed context.
func CompactContextKey(platform string, batchNumber int) string {
	return path.Join(util.Slug(platform), contextDir, batchName(batchNumber)+compactSuffix)
}

// CheckpointPrefix returns the key prefix of a batch's checkpoints.
func CheckpointPrefix(platform string, batchNumber int) string {
	return path.Join(util.Slug(platform), checkpointDir, batchName(batchNumber)) + "/"
}

// CheckpointKey returns the key of the checkpoint taken after the action at
// actionIndex (0-based within the batch).
func CheckpointKey(platform string, batchNumber, actionIndex int) string {
	return CheckpointPrefix(platform, batchNumber) + fmt.Sprintf("%s%04d%s", actionPrefix, actionIndex, jsonSuffix)
}

// InterruptKey returns the key of a batch's interrupt record.
func InterruptKey(platform string, batchNumber int) string {
	return path.Join(util.Slug(platform), interruptDir, batchName(batchNumber)+jsonSuffix)
}

// parseNumbered extracts N from a path element "<prefix>NNNN<suffix>".
func parseNumbered(elem, prefix, suffix string) (int, bool) {
	if !strings.HasPrefix(elem, prefix) || !strings.HasSuffix(elem, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(elem, prefix), suffix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseContextKey returns the batch number of a context key and whether it
// is the compact variant.
func parseContextKey(key string) (batchNumber int, compact bool, ok bool) {
	base := path.Base(key)
	if n, ok := parseNumbered(base, batchPrefix, compactSuffix); ok {
		return n, true, true
	}
	n, ok := parseNumbered(base, batchPrefix, jsonSuffix)
	return n, false, ok
}

// parseCheckpointKey returns the batch number and action index of a
// checkpoint key.
func parseCheckpointKey(key string) (batchNumber, actionIndex int, ok bool) {
	dir, file := path.Split(key)
	batchNumber, ok = parseNumbered(path.Base(dir), batchPrefix, "")
	if !ok {
		return 0, 0, false
	}
	actionIndex, ok = parseNumbered(file, actionPrefix, jsonSuffix)
	return batchNumber, actionIndex, ok
}

// parseInterruptKey returns the batch number of an interrupt key.
func parseInterruptKey(key string) (int, bool) {
	return parseNumbered(path.Base(key), batchPrefix, jsonSuffix)
}
