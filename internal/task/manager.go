package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/events"
	"github.com/chenpu17/ai-browser/internal/id"
	"github.com/chenpu17/ai-browser/internal/logging"
)

const (
	defaultMaxConcurrent = 5
	maxRunTimeout        = 600 * time.Second
	defaultRunTTL        = 30 * time.Minute
)

// RunContext is what an executor gets besides its context: the run id, the
// run's event stream, and a progress callback.
type RunContext struct {
	RunID  string
	Stream *events.Stream
	Report func(Progress)
}

// Executor is the work function of a run. It must check ctx between steps;
// cancellation is cooperative.
type Executor func(ctx context.Context, rc RunContext) (any, error)

// ManagerConfig tunes the run manager.
type ManagerConfig struct {
	MaxConcurrent int
	RunTimeout    time.Duration
	RunTTL        time.Duration
	ArtifactTTL   time.Duration
}

type runState struct {
	run    *Run
	cancel context.CancelFunc
	stream *events.Stream
}

// RunManager executes submitted runs under a concurrency cap and a
// wall-clock timeout, tracks their status, and owns the artifact store.
type RunManager struct {
	cfg       ManagerConfig
	logger    logging.Logger
	sem       *semaphore.Weighted
	artifacts *ArtifactStore

	mu       sync.Mutex
	runs     map[string]*runState
	onFinish func(status Status, elapsed time.Duration)

	stopSweep context.CancelFunc
}

// SetFinishHook installs a callback invoked once per run on terminality.
// Call before submitting runs.
func (m *RunManager) SetFinishHook(hook func(status Status, elapsed time.Duration)) {
	m.onFinish = hook
}

// NewRunManager creates a manager and starts its TTL sweeper.
func NewRunManager(cfg ManagerConfig, logger logging.Logger) *RunManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.RunTimeout <= 0 || cfg.RunTimeout > maxRunTimeout {
		cfg.RunTimeout = maxRunTimeout
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = defaultRunTTL
	}
	m := &RunManager{
		cfg:       cfg,
		logger:    logging.OrNop(logger),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		artifacts: NewArtifactStore(cfg.ArtifactTTL),
		runs:      make(map[string]*runState),
	}
	sweepCtx, cancel := context.WithCancel(context.Background())
	m.stopSweep = cancel
	go m.sweepLoop(sweepCtx)
	return m
}

// Artifacts exposes the artifact store.
func (m *RunManager) Artifacts() *ArtifactStore { return m.artifacts }

// SubmitOptions carry run metadata.
type SubmitOptions struct {
	TemplateID  string
	SessionID   string
	OwnsSession bool
}

// Submit starts a run. When all concurrency slots are held by non-terminal
// runs it fails with TOO_MANY_RUNS rather than queueing.
func (m *RunManager) Submit(opts SubmitOptions, executor Executor) (*Run, error) {
	if !m.sem.TryAcquire(1) {
		return nil, aiberrors.Newf(aiberrors.CodeTooManyRuns,
			"concurrent run limit (%d) reached", m.cfg.MaxConcurrent)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), m.cfg.RunTimeout)
	run := &Run{
		ID:        id.NewRunID(),
		Status:    StatusQueued,
		CreatedAt: time.Now(),

		TemplateID:  opts.TemplateID,
		SessionID:   opts.SessionID,
		OwnsSession: opts.OwnsSession,
	}
	state := &runState{run: run, cancel: cancel, stream: events.NewStream()}

	m.mu.Lock()
	m.runs[run.ID] = state
	m.mu.Unlock()

	go m.execute(runCtx, state, executor)
	return m.snapshot(run.ID), nil
}

func (m *RunManager) execute(ctx context.Context, state *runState, executor Executor) {
	defer m.sem.Release(1)
	started := time.Now()

	m.mu.Lock()
	state.run.Status = StatusRunning
	m.mu.Unlock()

	rc := RunContext{
		RunID:  state.run.ID,
		Stream: state.stream,
		Report: func(p Progress) {
			m.mu.Lock()
			if !state.run.Status.Terminal() {
				state.run.Progress = p
			}
			m.mu.Unlock()
			state.stream.Publish(events.Event{Type: events.TypeProgress, Data: map[string]any{
				"totalSteps": p.TotalSteps, "doneSteps": p.DoneSteps,
			}})
		},
	}

	result, err := executor(ctx, rc)
	elapsed := time.Since(started)

	status, runErr := deriveTerminal(ctx, result, err)
	m.finish(state, status, result, runErr, elapsed)
}

// deriveTerminal maps an executor outcome onto a terminal status.
func deriveTerminal(ctx context.Context, result any, err error) (Status, *RunError) {
	if err != nil {
		if ctx.Err() == context.Canceled || aiberrors.CodeOf(err) == aiberrors.CodeRunCanceled {
			return StatusCanceled, &RunError{Code: aiberrors.CodeRunCanceled, Message: "run canceled"}
		}
		if ctx.Err() == context.DeadlineExceeded {
			return StatusFailed, &RunError{Code: aiberrors.CodeRunTimeout, Message: "run exceeded its time limit"}
		}
		return StatusFailed, &RunError{Code: aiberrors.CodeOf(err), Message: err.Error()}
	}

	if obj, ok := result.(map[string]any); ok {
		if summary, ok := obj["summary"].(map[string]any); ok {
			succeeded := asInt(summary["succeeded"])
			total := asInt(summary["total"])
			switch {
			case total > 0 && succeeded == total:
				return StatusSucceeded, nil
			case total > 0 && float64(succeeded)/float64(total) >= 0.5:
				return StatusPartialSuccess, nil
			case total > 0:
				return StatusFailed, &RunError{
					Code:    aiberrors.CodeExecutionError,
					Message: fmt.Sprintf("%d of %d items succeeded", succeeded, total),
				}
			}
		}
		if success, ok := obj["success"].(bool); ok {
			if success {
				return StatusSucceeded, nil
			}
			message, _ := obj["error"].(string)
			if message == "" {
				message = "task reported failure"
			}
			return StatusFailed, &RunError{Code: aiberrors.CodeExecutionError, Message: message}
		}
	}
	return StatusSucceeded, nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

// finish records the terminal status exactly once, serializes the result as
// the primary artifact, and publishes the terminal done event.
func (m *RunManager) finish(state *runState, status Status, result any, runErr *RunError, elapsed time.Duration) {
	m.mu.Lock()
	if state.run.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	state.run.Status = status
	state.run.Result = result
	state.run.Error = runErr
	state.run.ElapsedMS = elapsed.Milliseconds()
	now := time.Now()
	state.run.FinishedAt = &now
	runID := state.run.ID
	m.mu.Unlock()

	if result != nil {
		if encoded, err := json.Marshal(result); err == nil {
			artifact := m.artifacts.Put(runID, "application/json", encoded)
			m.mu.Lock()
			state.run.ArtifactIDs = append(state.run.ArtifactIDs, artifact.ID)
			m.mu.Unlock()
		}
	}
	m.artifacts.MarkTerminal(runID)

	data := map[string]any{"status": string(status)}
	if runErr != nil {
		data["errorCode"] = string(runErr.Code)
		data["error"] = runErr.Message
	}
	state.stream.Publish(events.Event{Type: events.TypeDone, Data: data})
	if m.onFinish != nil {
		m.onFinish(status, elapsed)
	}
	m.logger.Info("run %s finished: %s (%s)", runID, status, elapsed.Round(time.Millisecond))
}

// Cancel requests cooperative cancellation. Terminal runs are untouched.
func (m *RunManager) Cancel(runID string) bool {
	m.mu.Lock()
	state, ok := m.runs[runID]
	if !ok || state.run.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	cancel := state.cancel
	m.mu.Unlock()
	cancel()
	return true
}

// Get returns a copy of the run, or nil.
func (m *RunManager) Get(runID string) *Run {
	return m.snapshot(runID)
}

func (m *RunManager) snapshot(runID string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.runs[runID]
	if !ok {
		return nil
	}
	clone := *state.run
	clone.ArtifactIDs = append([]string(nil), state.run.ArtifactIDs...)
	return &clone
}

// Stream returns the run's event stream, or nil.
func (m *RunManager) Stream(runID string) *events.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.runs[runID]; ok {
		return state.stream
	}
	return nil
}

// List returns all runs newest-first.
func (m *RunManager) List() []*Run {
	m.mu.Lock()
	out := make([]*Run, 0, len(m.runs))
	for _, state := range m.runs {
		clone := *state.run
		out = append(out, &clone)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveCount returns how many runs are non-terminal.
func (m *RunManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, state := range m.runs {
		if !state.run.Status.Terminal() {
			count++
		}
	}
	return count
}

func (m *RunManager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops terminal runs older than the run TTL and expired artifacts.
func (m *RunManager) sweep() {
	cutoff := time.Now().Add(-m.cfg.RunTTL)
	m.mu.Lock()
	for runID, state := range m.runs {
		if state.run.Status.Terminal() && state.run.FinishedAt != nil && state.run.FinishedAt.Before(cutoff) {
			delete(m.runs, runID)
		}
	}
	m.mu.Unlock()
	m.artifacts.Sweep()
}

// Shutdown stops the sweeper and cancels all active runs.
func (m *RunManager) Shutdown() {
	if m.stopSweep != nil {
		m.stopSweep()
	}
	m.mu.Lock()
	var cancels []context.CancelFunc
	for _, state := range m.runs {
		if !state.run.Status.Terminal() {
			cancels = append(cancels, state.cancel)
		}
	}
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
