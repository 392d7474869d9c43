// Package bot implements the meeting lifecycle state machine. It drives
// the platform adapter through join, admission and leave, and orchestrates
// the audio source, transcription session, speaker timeline and recording
// sink during the recording phase.
package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/LastBotInc/coralie-meeting-bot/internal/audio"
	"github.com/LastBotInc/coralie-meeting-bot/internal/config"
	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
	"github.com/LastBotInc/coralie-meeting-bot/internal/metrics"
	"github.com/LastBotInc/coralie-meeting-bot/internal/platform"
	"github.com/LastBotInc/coralie-meeting-bot/internal/recording"
	"github.com/LastBotInc/coralie-meeting-bot/internal/speaker"
	"github.com/LastBotInc/coralie-meeting-bot/internal/transcription"
)

// ReconfigureRequest changes the transcription language/task mid-session
// without leaving the meeting.
type ReconfigureRequest struct {
	Language string
	Task     string
}

// Bot is one meeting session: it owns the currently active transcription
// session and the lifecycle phase, and is the single arbiter of what
// happens next.
type Bot struct {
	cfg      *config.Config
	adapter  platform.Adapter
	detector platform.SpeakerDetector

	onSegments transcription.SegmentHandler

	mu       sync.Mutex
	phase    Phase
	session  *transcription.Session
	language string
	task     string

	source   *audio.Source
	sink     *recording.Sink
	timeline *speaker.Timeline

	// newSource builds the capture source; replaced in tests.
	newSource func(onError func(error)) *audio.Source

	leaveCh   chan string
	reconfCh  chan ReconfigureRequest
	removedCh chan struct{}
	captureCh chan error
}

// New creates a bot for one meeting. onSegments may be nil.
func New(cfg *config.Config, adapter platform.Adapter, detector platform.SpeakerDetector, onSegments transcription.SegmentHandler) *Bot {
	b := &Bot{
		cfg:        cfg,
		adapter:    adapter,
		detector:   detector,
		onSegments: onSegments,
		phase:      PhaseJoining,
		language:   cfg.Language,
		task:       cfg.Task,
		leaveCh:    make(chan string, 1),
		reconfCh:   make(chan ReconfigureRequest, 1),
		removedCh:  make(chan struct{}, 1),
		captureCh:  make(chan error, 1),
	}
	b.newSource = func(onError func(error)) *audio.Source {
		return audio.New(cfg.CaptureDevice, cfg.FrameSamples, onError)
	}
	return b
}

// Phase returns the currently active lifecycle phase.
func (b *Bot) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// RequestLeave asks the bot to leave the meeting. Non-blocking; a second
// request while one is pending is ignored.
func (b *Bot) RequestLeave(reason string) {
	select {
	case b.leaveCh <- reason:
	default:
	}
}

// RequestReconfigure asks the bot to rotate the transcription session with
// new parameters. Only honored while recording.
func (b *Bot) RequestReconfigure(req ReconfigureRequest) {
	select {
	case b.reconfCh <- req:
	default:
		logging.Warning(logging.CategoryBot, "reconfigure request dropped, one already pending")
	}
}

// Run drives the lifecycle to completion and blocks until the bot reaches
// Ended. A terminal failure from any phase still routes through Leaving,
// so the platform adapter always gets a chance to exit the meeting
// cleanly; the failure is returned to the caller.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.join(ctx); err != nil {
		b.leave(ctx, "join failed")
		return err
	}

	if err := b.waitForAdmission(ctx, b.cfg.AdmissionPollInterval, b.cfg.AdmissionTimeout); err != nil {
		b.leave(ctx, "admission failed")
		return err
	}

	b.prepare()

	fatal := b.record(ctx)

	reason := "session complete"
	if fatal != nil {
		reason = fatal.Error()
	}
	b.leave(ctx, reason)
	return fatal
}

// join invokes the adapter's join operation, retrying transient failures
// (for example the host has not started the meeting yet) on a fixed
// interval up to a wall-clock budget.
func (b *Bot) join(ctx context.Context) error {
	b.setPhase(PhaseJoining)
	logging.Info(logging.CategoryBot, "joining meeting url=%s", b.cfg.MeetingURL)

	deadline := time.Now().Add(b.cfg.JoinBudget)
	for {
		err := b.adapter.Join()
		if err == nil {
			logging.Info(logging.CategoryBot, "join flow completed")
			return nil
		}
		logging.Warning(logging.CategoryBot, "join attempt failed: %v", err)

		if time.Now().After(deadline) {
			return phaseErr(PhaseJoining, fmt.Errorf("%w: %v", ErrJoinBudgetExceeded, err))
		}
		select {
		case <-ctx.Done():
			return phaseErr(PhaseJoining, ctx.Err())
		case <-time.After(b.cfg.JoinRetryInterval):
		}
	}
}

// waitForAdmission polls the adapter's silent admission check on a fixed
// interval until admitted, rejected or the budget elapses. Rejection and
// timeout are distinct error kinds: a removal notice detected while still
// waiting is a rejection, not a timeout.
func (b *Bot) waitForAdmission(ctx context.Context, interval, budget time.Duration) error {
	b.setPhase(PhaseAwaitingAdmission)
	logging.Info(logging.CategoryBot, "awaiting admission timeout=%v", budget)

	deadline := time.Now().Add(budget)
	for {
		admitted, err := b.adapter.CheckAdmissionSilent()
		var rej *platform.RejectionError
		if errors.As(err, &rej) {
			return phaseErr(PhaseAwaitingAdmission, fmt.Errorf("%w: %s", ErrAdmissionRejected, rej.Notice))
		}
		if err != nil {
			logging.Warning(logging.CategoryBot, "admission check failed: %v", err)
		}
		if admitted {
			logging.Info(logging.CategoryBot, "admitted to meeting")
			return nil
		}

		if time.Now().After(deadline) {
			return phaseErr(PhaseAwaitingAdmission, ErrAdmissionTimeout)
		}
		select {
		case <-ctx.Done():
			return phaseErr(PhaseAwaitingAdmission, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// prepare dismisses transient UI obstacles and joins meeting audio. Best
// effort: a failure never ends the session.
func (b *Bot) prepare() {
	b.setPhase(PhasePreparing)
	if err := b.adapter.Prepare(); err != nil {
		logging.Warning(logging.CategoryBot, "prepare failed, continuing: %v", err)
	}
}

// record starts the four concurrent activities and reacts to control
// signals until a leave request, removal or capture failure ends the
// phase. Returns a non-nil error only for fatal causes.
func (b *Bot) record(ctx context.Context) error {
	b.setPhase(PhaseRecording)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Recording sink. Artifact errors never end the live session; a sink
	// that failed to start is discarded so leave has nothing to finalize.
	sink := recording.NewSink(
		filepath.Join(b.cfg.RecordingDir, b.cfg.MeetingID+".wav"),
		audio.SampleRate, audio.Channels,
	)
	if err := sink.Start(); err != nil {
		logging.Error(logging.CategoryRecording, "recording disabled: %v", err)
	} else {
		b.sink = sink
	}

	// Transcription session, installed once the transport is open.
	sess := transcription.NewSession(b.sessionConfig(b.language, b.task))
	go b.openAndInstall(ctx, sess, false)

	// Audio source fans frames out to the sink and the current session.
	b.source = b.newSource(func(err error) {
		select {
		case b.captureCh <- err:
		default:
		}
	})
	if b.sink != nil {
		b.source.AddTap(b.sink)
	}
	b.source.AddTap(audio.TapFunc(func(frame []int16) {
		if s := b.currentSession(); s != nil {
			s.SendAudio(frame)
		}
	}))
	if err := b.source.Start(ctx); err != nil {
		return phaseErr(PhaseRecording, fmt.Errorf("%w: %v", ErrCaptureFailed, err))
	}

	// Speaker timeline reads the current session on every tick.
	b.timeline = speaker.NewTimeline(b.detector, b.timelineSession, b.cfg.SpeakerSampleInterval)
	b.timeline.Start(ctx)

	stopMonitor := b.adapter.StartRemovalMonitor(func() {
		select {
		case b.removedCh <- struct{}{}:
		default:
		}
	})
	defer stopMonitor()

	for {
		select {
		case <-ctx.Done():
			logging.Info(logging.CategoryBot, "context cancelled during recording")
			return nil
		case reason := <-b.leaveCh:
			logging.Info(logging.CategoryBot, "leave requested reason=%s", reason)
			return nil
		case <-b.removedCh:
			logging.Info(logging.CategoryBot, "removed from meeting")
			return nil
		case err := <-b.captureCh:
			return phaseErr(PhaseRecording, fmt.Errorf("%w: %v", ErrCaptureFailed, err))
		case req := <-b.reconfCh:
			b.reconfigure(ctx, req)
		}
	}
}

// reconfigure rotates only the transcription session: the audio source and
// recording sink keep running, so the artifact's sample count is untouched.
// The last known speaker is re-announced against the fresh identity.
func (b *Bot) reconfigure(ctx context.Context, req ReconfigureRequest) {
	b.setPhase(PhaseReconfiguring)
	logging.Info(logging.CategoryBot, "reconfiguring language=%s task=%s", req.Language, req.Task)

	old := b.currentSession()
	b.mu.Lock()
	b.session = nil
	if req.Language != "" {
		b.language = req.Language
	}
	if req.Task != "" {
		b.task = req.Task
	}
	lang, task := b.language, b.task
	b.mu.Unlock()

	// Explicit close suppresses the automatic reconnect path; this flow
	// supersedes it.
	if old != nil {
		old.Close()
	}

	fresh := transcription.NewSession(b.sessionConfig(lang, task))
	if _, err := fresh.Open(ctx); err != nil {
		logging.Warning(logging.CategoryBot, "reconfigure open failed, retrying in background: %v", err)
		go b.openAndInstall(ctx, fresh, true)
		b.setPhase(PhaseRecording)
		return
	}

	b.timeline.Rotate(func() {
		b.mu.Lock()
		b.session = fresh
		b.mu.Unlock()
	})

	b.setPhase(PhaseRecording)
}

// leave performs the orderly teardown in fixed order: speaker timeline,
// transcription session, recording finalize, then the adapter's leave
// flow. Always ends in the absorbing Ended phase; leave failures are
// logged, never returned, since the process is terminating anyway.
func (b *Bot) leave(ctx context.Context, reason string) {
	b.mu.Lock()
	if b.phase == PhaseEnded {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.setPhase(PhaseLeaving)
	logging.Info(logging.CategoryBot, "leaving meeting reason=%s", reason)

	if b.timeline != nil {
		b.timeline.Stop()
	}

	var uid string
	if s := b.currentSession(); s != nil {
		uid = s.CurrentIdentity().UID
		s.Close()
	}
	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()

	if b.source != nil {
		b.source.Stop()
	}

	if b.sink != nil {
		artifact, err := b.sink.Finalize()
		if err != nil {
			logging.Error(logging.CategoryRecording, "finalize failed: %v", err)
		} else if b.cfg.UploadEndpoint != "" {
			uploadCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := recording.Upload(uploadCtx, artifact, b.cfg.UploadEndpoint, b.cfg.UploadToken, b.cfg.MeetingID, uid); err != nil {
				logging.Error(logging.CategoryRecording, "upload failed, artifact retained: %v", err)
			} else if err := b.sink.Remove(); err != nil {
				logging.Warning(logging.CategoryRecording, "cleanup failed: %v", err)
			}
			cancel()
		}
	}

	if ok := b.adapter.Leave(reason); !ok {
		logging.Warning(logging.CategoryBot, "platform leave flow did not complete")
	}

	b.setPhase(PhaseEnded)
	logging.Info(logging.CategoryBot, "lifecycle ended")
}

// openAndInstall opens the session, retrying on the fixed reconnect delay
// until it succeeds or the context ends, then installs it as the current
// session. With reannounce set the install happens atomically with a
// re-announcement of the last known speaker.
func (b *Bot) openAndInstall(ctx context.Context, sess *transcription.Session, reannounce bool) {
	for {
		if _, err := sess.Open(ctx); err != nil {
			logging.Warning(logging.CategoryTranscription, "session open failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.ReconnectDelay):
			}
			continue
		}
		break
	}

	install := func() {
		b.mu.Lock()
		b.session = sess
		b.mu.Unlock()
	}
	if reannounce && b.timeline != nil {
		b.timeline.Rotate(install)
	} else {
		install()
	}
}

func (b *Bot) currentSession() *transcription.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// timelineSession adapts currentSession for the timeline, returning a nil
// interface when no session is installed.
func (b *Bot) timelineSession() speaker.Transcriber {
	if s := b.currentSession(); s != nil {
		return s
	}
	return nil
}

func (b *Bot) sessionConfig(language, task string) transcription.Config {
	return transcription.Config{
		URL:            b.cfg.TranscriptionURL,
		Token:          b.cfg.Token,
		Language:       language,
		Task:           task,
		Platform:       b.cfg.Platform,
		MeetingID:      b.cfg.MeetingID,
		MeetingURL:     b.cfg.MeetingURL,
		ReconnectDelay: b.cfg.ReconnectDelay,
		OnSegments:     b.handleSegments,
	}
}

func (b *Bot) handleSegments(uid string, segments []transcription.TranscriptSegment) {
	logging.Debug(logging.CategoryTranscription, "segments received uid=%s count=%d", uid, len(segments))
	if b.onSegments != nil {
		b.onSegments(uid, segments)
	}
}

func (b *Bot) setPhase(p Phase) {
	b.mu.Lock()
	if b.phase == PhaseEnded {
		// Ended is absorbing.
		b.mu.Unlock()
		return
	}
	prev := b.phase
	b.phase = p
	b.mu.Unlock()

	metrics.Phase.Set(float64(p))
	if prev != p {
		logging.Info(logging.CategoryBot, "phase %s -> %s", prev, p)
	}
}
