package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clip-metrics/utils"
)

const (
	stageOK   = "handoff-stage-ok"
	stageFail = "handoff-stage-fail"
)

// TestMain lets Chain re-run this binary as a pipeline stage.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case stageOK:
			time.Sleep(100 * time.Millisecond)
			if len(os.Args) > 2 {
				_ = os.WriteFile(os.Args[2], []byte("done"), 0o644)
			}
			os.Exit(0)
		case stageFail:
			os.Exit(3)
		}
	}
	os.Exit(m.Run())
}

func newTestHandoff(t *testing.T, timeout time.Duration) *Handoff {
	t.Helper()
	return NewHandoff(t.TempDir(), 10*time.Millisecond, timeout, utils.Discard())
}

func TestPublishThenConsume(t *testing.T) {
	h := newTestHandoff(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.Publish(ctx, "tiktok_data.json", map[string]any{"data": []any{}}))
	assert.True(t, h.Exists("tiktok_data.json"))

	var got map[string]any
	ok, err := h.ConsumeJSON("tiktok_data.json", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, got, "data")
	assert.False(t, h.Exists("tiktok_data.json"), "consumed file is deleted")

	ok, err = h.ConsumeJSON("tiktok_data.json", &got)
	require.NoError(t, err)
	assert.False(t, ok, "second consume sees an absent file")
}

func TestConsumeAbsentIsNotAnError(t *testing.T) {
	h := newTestHandoff(t, time.Second)

	called := false
	ok, err := h.Consume("music_data.json", func([]byte) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
}

func TestConsumeKeepsFileWhenHandlerFails(t *testing.T) {
	h := newTestHandoff(t, time.Second)
	require.NoError(t, h.PublishBytes(context.Background(), "x.json", []byte("{}")))

	boom := errors.New("boom")
	ok, err := h.Consume("x.json", func([]byte) error { return boom })

	assert.True(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.Exists("x.json"))
}

func TestWaitReadyObservesLateWriter(t *testing.T) {
	h := newTestHandoff(t, 2*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		path := filepath.Join(h.Dir(), "late.json")
		_ = os.WriteFile(path, nil, 0644)
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(path, []byte(`{"ok":true}`), 0644)
	}()

	require.NoError(t, h.WaitReady(context.Background(), "late.json"))
}

func TestWaitReadyTimesOut(t *testing.T) {
	h := newTestHandoff(t, 50*time.Millisecond)

	err := h.WaitReady(context.Background(), "never.json")
	assert.ErrorIs(t, err, ErrHandoffTimeout)
}

func TestWaitReadyIgnoresEmptyFile(t *testing.T) {
	h := newTestHandoff(t, 50*time.Millisecond)
	require.NoError(t, os.WriteFile(h.Path("empty.json"), nil, 0644))

	err := h.WaitReady(context.Background(), "empty.json")
	assert.ErrorIs(t, err, ErrHandoffTimeout)
}

func TestWaitReadyHonoursCancellation(t *testing.T) {
	h := newTestHandoff(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.WaitReady(ctx, "never.json")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkers(t *testing.T) {
	h := newTestHandoff(t, time.Second)

	assert.Equal(t, "tiktok_metrics.csv_uploaded", MarkerName("tiktok_metrics.csv"))
	assert.False(t, h.HasMarker("tiktok_metrics.csv"))

	require.NoError(t, h.CreateMarker("tiktok_metrics.csv"))
	assert.True(t, h.HasMarker("tiktok_metrics.csv"))

	require.NoError(t, h.RemoveMarker("tiktok_metrics.csv"))
	assert.False(t, h.HasMarker("tiktok_metrics.csv"))
	assert.NoError(t, h.RemoveMarker("tiktok_metrics.csv"), "removing twice is fine")
}

func TestChainSwallowsFailingStage(t *testing.T) {
	h := newTestHandoff(t, time.Second)

	done := make(chan struct{})
	go func() {
		h.Chain(context.Background(), stageFail)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Chain did not return after the stage exited")
	}
}

func TestChainWaitsForStage(t *testing.T) {
	h := newTestHandoff(t, time.Second)
	out := filepath.Join(t.TempDir(), "stage.out")

	h.Chain(context.Background(), stageOK, out)

	data, err := os.ReadFile(out)
	require.NoError(t, err, "stage finished before Chain returned")
	assert.Equal(t, "done", string(data))
}
