package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/events"
)

func waitTerminal(t *testing.T, m *RunManager, runID string) *Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if run := m.Get(runID); run != nil && run.Status.Terminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return nil
}

func TestDeriveTerminal(t *testing.T) {
	background := context.Background()

	canceled, cancel := context.WithCancel(background)
	cancel()
	expired, expire := context.WithDeadline(background, time.Now().Add(-time.Second))
	defer expire()

	tests := []struct {
		name       string
		ctx        context.Context
		result     any
		err        error
		wantStatus Status
		wantCode   aiberrors.Code
	}{
		{
			name:       "plain success",
			ctx:        background,
			result:     map[string]any{"answer": 42.0},
			wantStatus: StatusSucceeded,
		},
		{
			name:       "summary all succeeded",
			ctx:        background,
			result:     map[string]any{"summary": map[string]any{"succeeded": 3.0, "total": 3.0}},
			wantStatus: StatusSucceeded,
		},
		{
			name:       "summary half succeeded",
			ctx:        background,
			result:     map[string]any{"summary": map[string]any{"succeeded": 2.0, "total": 4.0}},
			wantStatus: StatusPartialSuccess,
		},
		{
			name:       "summary mostly failed",
			ctx:        background,
			result:     map[string]any{"summary": map[string]any{"succeeded": 1.0, "total": 4.0}},
			wantStatus: StatusFailed,
			wantCode:   aiberrors.CodeExecutionError,
		},
		{
			name:       "explicit failure flag",
			ctx:        background,
			result:     map[string]any{"success": false, "error": "login rejected"},
			wantStatus: StatusFailed,
			wantCode:   aiberrors.CodeExecutionError,
		},
		{
			name:       "canceled context",
			ctx:        canceled,
			err:        context.Canceled,
			wantStatus: StatusCanceled,
			wantCode:   aiberrors.CodeRunCanceled,
		},
		{
			name:       "deadline exceeded",
			ctx:        expired,
			err:        context.DeadlineExceeded,
			wantStatus: StatusFailed,
			wantCode:   aiberrors.CodeRunTimeout,
		},
		{
			name:       "executor error",
			ctx:        background,
			err:        errors.New("browser exploded"),
			wantStatus: StatusFailed,
			wantCode:   aiberrors.CodeExecutionError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, runErr := deriveTerminal(tt.ctx, tt.result, tt.err)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantCode == "" {
				assert.Nil(t, runErr)
			} else {
				require.NotNil(t, runErr)
				assert.Equal(t, tt.wantCode, runErr.Code)
			}
		})
	}
}

func TestManagerConcurrencyCap(t *testing.T) {
	m := NewRunManager(ManagerConfig{MaxConcurrent: 2}, nil)
	defer m.Shutdown()

	release := make(chan struct{})
	blocking := func(ctx context.Context, rc RunContext) (any, error) {
		select {
		case <-release:
			return map[string]any{"success": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, err := m.Submit(SubmitOptions{}, blocking)
	require.NoError(t, err)
	second, err := m.Submit(SubmitOptions{}, blocking)
	require.NoError(t, err)

	_, err = m.Submit(SubmitOptions{}, blocking)
	require.Error(t, err)
	assert.Equal(t, aiberrors.CodeTooManyRuns, aiberrors.CodeOf(err))

	close(release)
	waitTerminal(t, m, first.ID)
	waitTerminal(t, m, second.ID)

	// Slots free up once the blockers finish.
	third, err := m.Submit(SubmitOptions{}, func(ctx context.Context, rc RunContext) (any, error) {
		return map[string]any{"success": true}, nil
	})
	require.NoError(t, err)
	run := waitTerminal(t, m, third.ID)
	assert.Equal(t, StatusSucceeded, run.Status)
}

func TestManagerCancel(t *testing.T) {
	m := NewRunManager(ManagerConfig{}, nil)
	defer m.Shutdown()

	started := make(chan struct{})
	submitted, err := m.Submit(SubmitOptions{}, func(ctx context.Context, rc RunContext) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	assert.True(t, m.Cancel(submitted.ID))

	run := waitTerminal(t, m, submitted.ID)
	assert.Equal(t, StatusCanceled, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, aiberrors.CodeRunCanceled, run.Error.Code)

	// Canceling a terminal run is a no-op.
	assert.False(t, m.Cancel(submitted.ID))
	assert.False(t, m.Cancel("run_missing"))
}

func TestManagerResultBecomesArtifactAndDoneEvent(t *testing.T) {
	m := NewRunManager(ManagerConfig{}, nil)
	defer m.Shutdown()

	submitted, err := m.Submit(SubmitOptions{TemplateID: TemplateBatchExtract}, func(ctx context.Context, rc RunContext) (any, error) {
		rc.Report(Progress{TotalSteps: 2, DoneSteps: 1})
		return map[string]any{"success": true, "result": "two pages read"}, nil
	})
	require.NoError(t, err)

	run := waitTerminal(t, m, submitted.ID)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, TemplateBatchExtract, run.TemplateID)
	require.Len(t, run.ArtifactIDs, 1)

	artifact, chunk, err := m.Artifacts().Get(run.ArtifactIDs[0], 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "application/json", artifact.MIMEType)
	assert.Contains(t, string(chunk), "two pages read")

	stream := m.Stream(submitted.ID)
	require.NotNil(t, stream)
	assert.True(t, stream.Closed())

	var sawProgress, sawDone bool
	for _, event := range stream.Events() {
		switch event.Type {
		case events.TypeProgress:
			sawProgress = true
		case events.TypeDone:
			sawDone = true
			assert.Equal(t, string(StatusSucceeded), event.Data["status"])
		}
	}
	assert.True(t, sawProgress)
	assert.True(t, sawDone)
}

func TestManagerFinishHook(t *testing.T) {
	m := NewRunManager(ManagerConfig{}, nil)
	defer m.Shutdown()

	got := make(chan Status, 1)
	m.SetFinishHook(func(status Status, elapsed time.Duration) {
		got <- status
	})

	submitted, err := m.Submit(SubmitOptions{}, func(ctx context.Context, rc RunContext) (any, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	waitTerminal(t, m, submitted.ID)

	select {
	case status := <-got:
		assert.Equal(t, StatusFailed, status)
	case <-time.After(time.Second):
		t.Fatal("finish hook was not invoked")
	}
}

func TestManagerListNewestFirst(t *testing.T) {
	m := NewRunManager(ManagerConfig{}, nil)
	defer m.Shutdown()

	quick := func(ctx context.Context, rc RunContext) (any, error) { return nil, nil }
	first, err := m.Submit(SubmitOptions{}, quick)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := m.Submit(SubmitOptions{}, quick)
	require.NoError(t, err)

	waitTerminal(t, m, first.ID)
	waitTerminal(t, m, second.ID)

	runs := m.List()
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
}
