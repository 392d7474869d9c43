package bot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LastBotInc/coralie-meeting-bot/internal/audio"
	"github.com/LastBotInc/coralie-meeting-bot/internal/config"
	"github.com/LastBotInc/coralie-meeting-bot/internal/platform"
)

type admissionResult struct {
	admitted bool
	err      error
}

// fakeAdapter scripts the platform surface. Result slices are consumed in
// order; the last element repeats.
type fakeAdapter struct {
	mu           sync.Mutex
	joinResults  []error
	joinCalls    int
	admission    []admissionResult
	admissionIdx int
	prepared     bool
	leaveReasons []string
	onRemoved    func()
	monitorStops int
}

func (a *fakeAdapter) Join() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joinCalls++
	if len(a.joinResults) == 0 {
		return nil
	}
	err := a.joinResults[0]
	if len(a.joinResults) > 1 {
		a.joinResults = a.joinResults[1:]
	}
	return err
}

func (a *fakeAdapter) CheckAdmissionSilent() (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.admission) == 0 {
		return true, nil
	}
	res := a.admission[a.admissionIdx]
	if a.admissionIdx < len(a.admission)-1 {
		a.admissionIdx++
	}
	return res.admitted, res.err
}

func (a *fakeAdapter) Prepare() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prepared = true
	return nil
}

func (a *fakeAdapter) StartRemovalMonitor(onRemoved func()) func() {
	a.mu.Lock()
	a.onRemoved = onRemoved
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.monitorStops++
		a.mu.Unlock()
	}
}

func (a *fakeAdapter) Leave(reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaveReasons = append(a.leaveReasons, reason)
	return true
}

func (a *fakeAdapter) triggerRemoval() {
	a.mu.Lock()
	fn := a.onRemoved
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *fakeAdapter) leftWith() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.leaveReasons...)
}

// pacedStream yields silent frames at a steady pace until closed.
type pacedStream struct {
	frameBytes int
	closed     chan struct{}
	once       sync.Once
}

func newPacedStream(frameBytes int) *pacedStream {
	return &pacedStream{frameBytes: frameBytes, closed: make(chan struct{})}
}

func (p *pacedStream) Read(buf []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(time.Millisecond):
	}
	n := p.frameBytes
	if n > len(buf) {
		n = len(buf)
	}
	for i := 0; i < n; i++ {
		buf[i] = 0
	}
	return n, nil
}

func (p *pacedStream) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Platform:              "google_meet",
		MeetingID:             "meet-1",
		MeetingURL:            "https://meet.example/abc",
		BotName:               "Coralie Notetaker",
		TranscriptionURL:      "ws://127.0.0.1:1/ws", // unreachable: frames are dropped, never fatal
		Language:              "en",
		Task:                  "transcribe",
		ReconnectDelay:        20 * time.Millisecond,
		JoinRetryInterval:     5 * time.Millisecond,
		JoinBudget:            time.Second,
		AdmissionPollInterval: 5 * time.Millisecond,
		AdmissionTimeout:      time.Second,
		SpeakerSampleInterval: 10 * time.Millisecond,
		CaptureDevice:         "default",
		FrameSamples:          4,
		RecordingDir:          t.TempDir(),
	}
}

func newTestBot(t *testing.T, cfg *config.Config, adapter *fakeAdapter) *Bot {
	t.Helper()
	b := New(cfg, adapter, platform.NoopDetector{}, nil)
	b.newSource = func(onError func(error)) *audio.Source {
		stream := newPacedStream(cfg.FrameSamples * 2)
		return audio.NewFromStream(func(ctx context.Context) (io.ReadCloser, error) {
			go func() {
				<-ctx.Done()
				stream.Close()
			}()
			return stream, nil
		}, cfg.FrameSamples, onError)
	}
	return b
}

func TestJoinRetriesTransientFailures(t *testing.T) {
	adapter := &fakeAdapter{
		joinResults: []error{errors.New("host not started"), errors.New("host not started"), nil},
	}
	b := newTestBot(t, testConfig(t), adapter)

	require.NoError(t, b.join(context.Background()))
	assert.Equal(t, 3, adapter.joinCalls)
}

func TestJoinBudgetExceededIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.JoinBudget = 20 * time.Millisecond
	adapter := &fakeAdapter{joinResults: []error{errors.New("host not started")}}
	b := newTestBot(t, cfg, adapter)

	err := b.join(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJoinBudgetExceeded)

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseJoining, phaseErr.Phase)
}

func TestAdmissionRejectionIsNotTimeout(t *testing.T) {
	// Three-iteration poll budget; the silent check stays false, and a
	// removal notice shows up on iteration two. The result must be a
	// rejection, not a timeout.
	adapter := &fakeAdapter{
		admission: []admissionResult{
			{admitted: false},
			{admitted: false, err: &platform.RejectionError{Notice: "You have been removed"}},
		},
	}
	b := newTestBot(t, testConfig(t), adapter)

	err := b.waitForAdmission(context.Background(), 5*time.Millisecond, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdmissionRejected)
	assert.NotErrorIs(t, err, ErrAdmissionTimeout)
	assert.ErrorContains(t, err, "You have been removed")
}

func TestAdmissionTimeout(t *testing.T) {
	adapter := &fakeAdapter{admission: []admissionResult{{admitted: false}}}
	b := newTestBot(t, testConfig(t), adapter)

	err := b.waitForAdmission(context.Background(), 5*time.Millisecond, 25*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdmissionTimeout)

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseAwaitingAdmission, phaseErr.Phase)
}

func TestAdmissionGranted(t *testing.T) {
	adapter := &fakeAdapter{
		admission: []admissionResult{{admitted: false}, {admitted: false}, {admitted: true}},
	}
	b := newTestBot(t, testConfig(t), adapter)

	require.NoError(t, b.waitForAdmission(context.Background(), 5*time.Millisecond, time.Second))
}

func TestRunLeaveRequestEndsSession(t *testing.T) {
	cfg := testConfig(t)
	adapter := &fakeAdapter{}
	b := newTestBot(t, cfg, adapter)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return b.Phase() == PhaseRecording
	}, 2*time.Second, 5*time.Millisecond)

	// Let some audio land in the artifact first.
	require.Eventually(t, func() bool {
		return b.sink.TotalSamples() > 0
	}, 2*time.Second, 5*time.Millisecond)

	b.RequestLeave("test over")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	assert.Equal(t, PhaseEnded, b.Phase())
	assert.True(t, adapter.prepared)
	assert.NotEmpty(t, adapter.leftWith())
	adapter.mu.Lock()
	assert.Equal(t, 1, adapter.monitorStops)
	adapter.mu.Unlock()

	// The artifact was finalized on the way out.
	data, err := os.ReadFile(filepath.Join(cfg.RecordingDir, "meet-1.wav"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
}

func TestRunSurvivesDisabledRecording(t *testing.T) {
	cfg := testConfig(t)
	// A regular file where the recording directory should be makes the
	// sink fail to start; the session carries on without an artifact.
	cfg.RecordingDir = filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(cfg.RecordingDir, []byte("x"), 0o644))

	adapter := &fakeAdapter{}
	b := newTestBot(t, cfg, adapter)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return b.Phase() == PhaseRecording
	}, 2*time.Second, 5*time.Millisecond)

	assert.Nil(t, b.sink)
	b.RequestLeave("done")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, PhaseEnded, b.Phase())
}

func TestRunRemovalEndsSession(t *testing.T) {
	adapter := &fakeAdapter{}
	b := newTestBot(t, testConfig(t), adapter)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return b.Phase() == PhaseRecording
	}, 2*time.Second, 5*time.Millisecond)

	adapter.triggerRemoval()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, PhaseEnded, b.Phase())
}

func TestCaptureFailureIsFatalButLeavesCleanly(t *testing.T) {
	adapter := &fakeAdapter{}
	b := newTestBot(t, testConfig(t), adapter)
	// Capture stream dies immediately.
	b.newSource = func(onError func(error)) *audio.Source {
		return audio.NewFromStream(func(ctx context.Context) (io.ReadCloser, error) {
			return io.NopCloser(&emptyReader{}), nil
		}, 4, onError)
	}

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCaptureFailed)

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseRecording, phaseErr.Phase)

	// The orderly leave still happened.
	assert.Equal(t, PhaseEnded, b.Phase())
	assert.NotEmpty(t, adapter.leftWith())
}

type emptyReader struct{}

func (emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

func TestReconfigurePreservesSampleCount(t *testing.T) {
	adapter := &fakeAdapter{}
	b := newTestBot(t, testConfig(t), adapter)

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return b.Phase() == PhaseRecording && b.sink.TotalSamples() > 0
	}, 2*time.Second, 5*time.Millisecond)

	before := b.sink.TotalSamples()
	b.RequestReconfigure(ReconfigureRequest{Language: "fi", Task: "transcribe"})

	// The phase returns to Recording and the artifact keeps growing:
	// recording continuity is independent of transport identity.
	require.Eventually(t, func() bool {
		return b.Phase() == PhaseRecording && b.sink.TotalSamples() > before
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, b.sink.TotalSamples(), before)

	b.RequestLeave("done")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	b.mu.Lock()
	assert.Equal(t, "fi", b.language)
	b.mu.Unlock()
}

func TestEndedIsAbsorbing(t *testing.T) {
	adapter := &fakeAdapter{}
	b := newTestBot(t, testConfig(t), adapter)

	require.NoError(t, b.Run(mustCancel(t)))
	assert.Equal(t, PhaseEnded, b.Phase())

	b.setPhase(PhaseRecording)
	assert.Equal(t, PhaseEnded, b.Phase())
}

// mustCancel returns an already-cancelled context so Run ends immediately
// after reaching the recording phase.
func mustCancel(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
