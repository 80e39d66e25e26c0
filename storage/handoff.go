package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"clip-metrics/utils"
)

// ErrHandoffTimeout is returned when a hand-off file does not materialise in time.
var ErrHandoffTimeout = errors.New("hand-off file never became ready")

const markerSuffix = "_uploaded"

// Handoff passes files between pipeline stages through a shared directory.
// A file goes absent -> written -> ready -> consumed -> absent.
type Handoff struct {
	dir          string
	pollInterval time.Duration
	timeout      time.Duration
	logger       *utils.Logger
}

// NewHandoff creates a Handoff rooted at dir. A zero timeout waits forever.
func NewHandoff(dir string, pollInterval, timeout time.Duration, logger *utils.Logger) *Handoff {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Handoff{dir: dir, pollInterval: pollInterval, timeout: timeout, logger: logger}
}

// Dir is the hand-off directory.
func (h *Handoff) Dir() string { return h.dir }

// Path returns the full path of a hand-off file.
func (h *Handoff) Path(name string) string {
	return filepath.Join(h.dir, name)
}

// Publish writes v as JSON under name and waits until the file is ready.
func (h *Handoff) Publish(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("handoff: encode %s: %w", name, err)
	}
	return h.PublishBytes(ctx, name, data)
}

// PublishBytes writes data under name and waits until the file is ready.
func (h *Handoff) PublishBytes(ctx context.Context, name string, data []byte) error {
	if err := os.MkdirAll(h.dir, 0755); err != nil {
		return fmt.Errorf("handoff: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(h.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("handoff: create %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("handoff: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("handoff: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), h.Path(name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("handoff: rename %s: %w", name, err)
	}

	h.logger.Info("[handoff] Wrote %s (%d bytes)", name, len(data))
	return h.WaitReady(ctx, name)
}

// WaitReady blocks until name exists with a non-zero size. It listens for
// directory events and also polls, so a missed event only costs one interval.
func (h *Handoff) WaitReady(ctx context.Context, name string) error {
	if h.ready(name) {
		return nil
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var events chan fsnotify.Event
	if w, err := fsnotify.NewWatcher(); err != nil {
		h.logger.Warn("[handoff] fsnotify unavailable, polling only: %v", err)
	} else {
		defer w.Close()
		if err := w.Add(h.dir); err != nil {
			h.logger.Warn("[handoff] Cannot watch %s, polling only: %v", h.dir, err)
		} else {
			events = w.Events
		}
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	h.logger.Info("[handoff] Waiting for %s", name)
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %v", ErrHandoffTimeout, name, h.timeout)
			}
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
		case <-ticker.C:
		}

		if h.ready(name) {
			return nil
		}
	}
}

func (h *Handoff) ready(name string) bool {
	info, err := os.Stat(h.Path(name))
	return err == nil && info.Size() > 0
}

// Exists reports whether a hand-off file is present.
func (h *Handoff) Exists(name string) bool {
	_, err := os.Stat(h.Path(name))
	return err == nil
}

// Consume hands the content of name to fn and deletes the file once fn
// succeeds. An absent file is not an error: it reports false.
func (h *Handoff) Consume(name string, fn func(data []byte) error) (bool, error) {
	data, err := os.ReadFile(h.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		h.logger.Debug("[handoff] %s not present, skipping", name)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("handoff: read %s: %w", name, err)
	}

	if err := fn(data); err != nil {
		return true, err
	}

	if err := h.Remove(name); err != nil {
		return true, err
	}
	h.logger.Info("[handoff] Consumed and deleted %s", name)
	return true, nil
}

// ConsumeJSON decodes name into v and deletes it. See Consume.
func (h *Handoff) ConsumeJSON(name string, v any) (bool, error) {
	return h.Consume(name, func(data []byte) error {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("handoff: decode %s: %w", name, err)
		}
		return nil
	})
}

// Remove deletes a hand-off file; a missing file is fine.
func (h *Handoff) Remove(name string) error {
	if err := os.Remove(h.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("handoff: delete %s: %w", name, err)
	}
	return nil
}

// MarkerName is the marker recording that name was uploaded.
func MarkerName(name string) string {
	return name + markerSuffix
}

// HasMarker reports whether name is marked as uploaded.
func (h *Handoff) HasMarker(name string) bool {
	return h.Exists(MarkerName(name))
}

// CreateMarker marks name as uploaded.
func (h *Handoff) CreateMarker(name string) error {
	f, err := os.OpenFile(h.Path(MarkerName(name)), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("handoff: create marker for %s: %w", name, err)
	}
	_, err = f.WriteString(time.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// RemoveMarker deletes the upload marker of name.
func (h *Handoff) RemoveMarker(name string) error {
	return h.Remove(MarkerName(name))
}

// Chain runs the next stage as an independent process and waits for it. A
// failing stage is logged and otherwise ignored.
func (h *Handoff) Chain(ctx context.Context, stage string, args ...string) {
	exe, err := os.Executable()
	if err != nil {
		h.logger.Error("[handoff] Cannot locate executable to chain %s: %v", stage, err)
		return
	}

	cmd := exec.CommandContext(ctx, exe, append([]string{stage}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	h.logger.Info("[handoff] Starting stage %q", stage)
	if err := cmd.Run(); err != nil {
		h.logger.Warn("[handoff] Stage %q exited with error: %v", stage, err)
		return
	}
	h.logger.Info("[handoff] Stage %q finished", stage)
}
