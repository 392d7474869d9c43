// Package speaker translates sampled active-speaker UI state into
// timestamped START/END events on the current transcription session's
// timeline.
package speaker

import (
	"context"
	"sync"
	"time"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
	"github.com/LastBotInc/coralie-meeting-bot/internal/platform"
	"github.com/LastBotInc/coralie-meeting-bot/internal/transcription"
)

// Transcriber is the slice of the transcription session the timeline needs.
type Transcriber interface {
	CurrentIdentity() transcription.SessionIdentity
	SendSpeakerEvent(ev transcription.SpeakerEvent) bool
}

// Timeline samples the detector on a fixed interval and emits speaker
// transitions. The session reference and identity are re-read on every
// tick, because a reconfigure rotates both underneath the timer; the tick
// path and Reannounce share one mutex so a rotation never interleaves with
// a mid-flight sample.
type Timeline struct {
	detector platform.SpeakerDetector
	current  func() Transcriber
	interval time.Duration

	mu   sync.Mutex
	last *platform.Speaker

	startMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTimeline creates a timeline. current returns the session currently in
// effect, or nil when none is open.
func NewTimeline(detector platform.SpeakerDetector, current func() Transcriber, interval time.Duration) *Timeline {
	if interval <= 0 {
		interval = time.Second
	}
	return &Timeline{
		detector: detector,
		current:  current,
		interval: interval,
	}
}

// Start begins sampling. Returns immediately.
func (t *Timeline) Start(ctx context.Context) {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.started = true
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Tick(time.Now())
			}
		}
	}()

	logging.Info(logging.CategorySpeaker, "speaker timeline started interval=%v", t.interval)
}

// Stop halts the sampling timer. Idempotent.
func (t *Timeline) Stop() {
	t.startMu.Lock()
	if !t.started {
		t.startMu.Unlock()
		return
	}
	t.started = false
	cancel := t.cancel
	t.startMu.Unlock()

	cancel()
	t.wg.Wait()
	logging.Info(logging.CategorySpeaker, "speaker timeline stopped")
}

// Tick performs one sample. Exported so tests can drive the timeline
// without the timer.
func (t *Timeline) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sp, ok := t.detector.ActiveSpeaker()
	switch {
	case ok && (t.last == nil || t.last.ID != sp.ID):
		if t.last != nil {
			t.emit(transcription.SpeakerEnd, *t.last, now)
		}
		t.emit(transcription.SpeakerStart, sp, now)
		cur := sp
		t.last = &cur
	case !ok && t.last != nil:
		t.emit(transcription.SpeakerEnd, *t.last, now)
		t.last = nil
	}
}

// Rotate atomically installs a rotated session (via install) and
// re-announces the last known speaker against it with a near-zero relative
// timestamp, so the fresh session is not left without attribution. No END
// is emitted: the previous START belonged to a timeline that no longer
// exists. Holding the sampling mutex across both steps guarantees no
// speaker sample reads a half-rotated state.
func (t *Timeline) Rotate(install func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if install != nil {
		install()
	}
	if t.last == nil {
		return
	}
	t.emit(transcription.SpeakerStart, *t.last, time.Now())
}

// Reannounce re-emits a START for the last known speaker against the
// session currently in effect.
func (t *Timeline) Reannounce() {
	t.Rotate(nil)
}

// LastSpeaker returns the most recently tracked speaker, if any.
func (t *Timeline) LastSpeaker() (platform.Speaker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return platform.Speaker{}, false
	}
	return *t.last, true
}

// emit delivers one event best-effort against the current session. Caller
// holds mu.
func (t *Timeline) emit(kind transcription.SpeakerEventKind, sp platform.Speaker, now time.Time) {
	sess := t.current()
	if sess == nil {
		return
	}
	id := sess.CurrentIdentity()
	if id.IsZero() {
		// Transport is down; the event is dropped, not queued.
		return
	}
	ev := transcription.SpeakerEvent{
		Kind:             kind,
		ParticipantID:    sp.ID,
		ParticipantLabel: sp.Label,
		RelativeMs:       id.RelativeMs(now),
		UID:              id.UID,
	}
	if !sess.SendSpeakerEvent(ev) {
		logging.Debug(logging.CategorySpeaker, "speaker event dropped kind=%s participant=%s", kind, sp.ID)
	}
}
