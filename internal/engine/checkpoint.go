package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/factgate/factgate/internal/model"
)

// CheckpointLog is the append-only record of stage outcomes per run.
// A checkpoint is written before control returns to the orchestrator,
// so a crashed run can resume from its last completed stage.
type CheckpointLog interface {
	Append(cp model.Checkpoint) error
	List(runID string) ([]model.Checkpoint, error)
}

// replayable extracts the stage results a resumed run can reuse.
// Pure function of the log: only checkpoints recorded for the same
// input hash count, and only succeeded stages are replayed. Anything
// else runs again.
func replayable(log []model.Checkpoint, inputHash string) map[string]*model.StageResult {
	done := make(map[string]*model.StageResult)
	for _, cp := range log {
		if cp.InputHash != inputHash {
			continue
		}
		if cp.Outcome == model.StageSucceeded && cp.Result != nil {
			done[cp.StageID] = cp.Result
		} else {
			// A later failure for the same stage invalidates the replay
			delete(done, cp.StageID)
		}
	}
	return done
}

// MemoryCheckpointLog keeps checkpoints in process memory. The default
// for one-shot CLI runs, where resume only matters within the process.
type MemoryCheckpointLog struct {
	mu   sync.Mutex
	runs map[string][]model.Checkpoint
}

// NewMemoryCheckpointLog creates an empty in-memory log
func NewMemoryCheckpointLog() *MemoryCheckpointLog {
	return &MemoryCheckpointLog{runs: make(map[string][]model.Checkpoint)}
}

// Append records a checkpoint
func (l *MemoryCheckpointLog) Append(cp model.Checkpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[cp.RunID] = append(l.runs[cp.RunID], cp)
	return nil
}

// List returns a run's checkpoints in append order
func (l *MemoryCheckpointLog) List(runID string) ([]model.Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cps := l.runs[runID]
	out := make([]model.Checkpoint, len(cps))
	copy(out, cps)
	return out, nil
}

// FileCheckpointLog appends checkpoints as JSON lines, one file per
// run, surviving process restarts.
type FileCheckpointLog struct {
	dir string
	mu  sync.Mutex
}

// NewFileCheckpointLog creates a durable log under dir
func NewFileCheckpointLog(dir string) (*FileCheckpointLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointLog{dir: dir}, nil
}

func (l *FileCheckpointLog) path(runID string) string {
	return filepath.Join(l.dir, runID+".jsonl")
}

// Append writes one checkpoint line and syncs before returning
func (l *FileCheckpointLog) Append(cp model.Checkpoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path(cp.RunID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open checkpoint log: %w", err)
	}
	defer func() { _ = f.Close() }()

	line, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	return f.Sync()
}

// List reads a run's checkpoints; a missing file is an empty log
func (l *FileCheckpointLog) List(runID string) ([]model.Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var cps []model.Checkpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var cp model.Checkpoint
		if err := json.Unmarshal(scanner.Bytes(), &cp); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint line: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, scanner.Err()
}
