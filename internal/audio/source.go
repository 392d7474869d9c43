// Package audio captures the OS audio mixer through an ffmpeg subprocess
// and fans fixed-size PCM frames (16 kHz, mono, 16-bit) out to taps.
package audio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
	"github.com/LastBotInc/coralie-meeting-bot/internal/metrics"
)

const (
	// SampleRate is the fixed capture rate.
	SampleRate = 16000
	// Channels is the fixed channel count.
	Channels = 1
)

// Tap receives audio frames from the source. The frame slice is reused
// between calls; implementations must copy samples they retain.
type Tap interface {
	OnFrame(frame []int16)
}

// NoopTap is a no-op implementation that does nothing.
type NoopTap struct{}

// OnFrame implements Tap (no-op).
func (NoopTap) OnFrame(frame []int16) {}

// TapFunc adapts a function to the Tap interface.
type TapFunc func(frame []int16)

// OnFrame implements Tap.
func (f TapFunc) OnFrame(frame []int16) { f(frame) }

// Source reads a continuous PCM stream from the mixer and emits it in
// fixed-size frames. A leaf component: it knows nothing about who consumes
// the frames.
type Source struct {
	frameSamples int
	taps         []Tap
	onError      func(error)

	openStream func(ctx context.Context) (io.ReadCloser, error)

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a source capturing the given mixer device via ffmpeg.
// onError is invoked once if the capture process fails while running.
func New(device string, frameSamples int, onError func(error)) *Source {
	s := &Source{
		frameSamples: frameSamples,
		onError:      onError,
	}
	s.openStream = func(ctx context.Context) (io.ReadCloser, error) {
		return startFFmpeg(ctx, device)
	}
	return s
}

// NewFromStream creates a source reading from an arbitrary PCM stream
// instead of ffmpeg. Used by tests.
func NewFromStream(open func(ctx context.Context) (io.ReadCloser, error), frameSamples int, onError func(error)) *Source {
	return &Source{
		frameSamples: frameSamples,
		onError:      onError,
		openStream:   open,
	}
}

// AddTap registers a frame consumer. Must be called before Start.
func (s *Source) AddTap(t Tap) {
	s.taps = append(s.taps, t)
}

// Start launches the capture process and the frame pump.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("audio source already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.openStream(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}

	s.started = true
	s.cancel = cancel

	s.wg.Add(1)
	go s.pump(ctx, stream)

	logging.Info(logging.CategoryAudio, "audio capture started frameSamples=%d", s.frameSamples)
	return nil
}

// Stop terminates the capture process. Idempotent and safe during any other
// component's teardown.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logging.Info(logging.CategoryAudio, "audio capture stopped")
}

// pump reads full frames and hands them to the taps in capture order. The
// byte and sample buffers are reused across iterations.
func (s *Source) pump(ctx context.Context, stream io.ReadCloser) {
	defer s.wg.Done()
	defer stream.Close()

	raw := make([]byte, s.frameSamples*2)
	frame := make([]int16, s.frameSamples)

	for {
		if _, err := io.ReadFull(stream, raw); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error(logging.CategoryAudio, "capture stream ended: %v", err)
			if s.onError != nil {
				s.onError(fmt.Errorf("audio capture failed: %w", err))
			}
			return
		}

		for i := range frame {
			frame[i] = int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		}

		metrics.FramesCaptured.Inc()
		for _, t := range s.taps {
			t.OnFrame(frame)
		}
	}
}

// startFFmpeg spawns ffmpeg reading the mixer device and emitting raw
// s16le PCM on stdout. The process dies with the context.
func startFFmpeg(ctx context.Context, device string) (io.ReadCloser, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "pulse",
		"-i", device,
		"-ac", fmt.Sprintf("%d", Channels),
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-f", "s16le",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	// Reap the process once the pipe is done with.
	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			logging.Warning(logging.CategoryAudio, "ffmpeg exited: %v", err)
		}
	}()

	return stdout, nil
}
