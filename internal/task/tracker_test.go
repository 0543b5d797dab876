// ABOUTME: Tests for the task tracker state machine
// ABOUTME: Covers completion, failure, cancellation, and terminal-state protection

package task

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForStatus polls until the task reaches the wanted status or times out.
func waitForStatus(t *testing.T, tracker *Tracker, id string, want Status) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := tracker.Status(id)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", id, want)
	return nil
}

func TestTracker_Submit_Completes(t *testing.T) {
	tracker := NewTracker(nil)

	id := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		report(0.5)
		return json.RawMessage(`{"answer":42}`), nil
	})
	require.NotEmpty(t, id)

	snap := waitForStatus(t, tracker, id, StatusCompleted)
	assert.Equal(t, 1.0, snap.Progress)
	assert.JSONEq(t, `{"answer":42}`, string(snap.Result))
	assert.Empty(t, snap.Error)
}

func TestTracker_Submit_Fails(t *testing.T) {
	tracker := NewTracker(nil)

	id := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		return nil, assert.AnError
	})

	snap := waitForStatus(t, tracker, id, StatusFailed)
	assert.NotEmpty(t, snap.Error)
	assert.Nil(t, snap.Result)
}

func TestTracker_Status_NotFound(t *testing.T) {
	tracker := NewTracker(nil)

	_, err := tracker.Status("01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTracker_Cancel(t *testing.T) {
	tracker := NewTracker(nil)
	started := make(chan struct{})

	id := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	<-started
	require.NoError(t, tracker.Cancel(id))

	snap := waitForStatus(t, tracker, id, StatusCancelled)
	assert.Equal(t, StatusCancelled, snap.Status)

	// Cancelled is terminal; the worker's ctx.Err() must not flip it to failed.
	tracker.Wait()
	snap, err := tracker.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
}

func TestTracker_Cancel_Terminal(t *testing.T) {
	tracker := NewTracker(nil)

	id := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})

	waitForStatus(t, tracker, id, StatusCompleted)

	assert.ErrorIs(t, tracker.Cancel(id), ErrConflict)
}

func TestTracker_Cancel_NotFound(t *testing.T) {
	tracker := NewTracker(nil)

	assert.ErrorIs(t, tracker.Cancel("missing"), ErrNotFound)
}

func TestTracker_ProgressClamped(t *testing.T) {
	tracker := NewTracker(nil)
	reported := make(chan struct{})
	release := make(chan struct{})

	id := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		report(2.5)
		close(reported)
		<-release
		return nil, nil
	})

	<-reported
	snap, err := tracker.Status(id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.Progress)

	close(release)
	tracker.Wait()
}

func TestTracker_List(t *testing.T) {
	tracker := NewTracker(nil)

	a := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		return nil, nil
	})
	b := tracker.Submit(context.Background(), func(ctx context.Context, report func(float64)) (json.RawMessage, error) {
		return nil, nil
	})
	tracker.Wait()

	snapshots := tracker.List()
	require.Len(t, snapshots, 2)
	ids := map[string]bool{snapshots[0].ID: true, snapshots[1].ID: true}
	assert.True(t, ids[a])
	assert.True(t, ids[b])
}
