// Package recording accumulates captured audio into a durable WAV artifact
// and uploads it when the session ends.
package recording

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
)

const headerSize = 44

// Artifact describes a recording on disk. Mutated only by the Sink;
// immutable once Finalized.
type Artifact struct {
	Path         string
	SampleRate   int
	Channels     int
	TotalSamples int64
	Finalized    bool
}

// Duration returns the recorded audio length.
func (a Artifact) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(a.TotalSamples) * time.Second / time.Duration(a.SampleRate)
}

// ByteSize returns the finalized file size: header plus 16-bit PCM payload.
func (a Artifact) ByteSize() int64 {
	return headerSize + a.TotalSamples*2
}

// Sink writes PCM frames into a WAV container. Start writes a placeholder
// header; Finalize rewrites it with the true payload size. Recording
// continuity is independent of the transcription transport: nothing here
// knows about session identities.
type Sink struct {
	path       string
	sampleRate int
	channels   int

	mu           sync.Mutex
	file         *os.File
	writeBuf     []byte
	totalSamples int64
	started      bool
	finalized    bool
	artifact     Artifact
}

// NewSink creates a sink writing 16 kHz mono PCM16 to path.
func NewSink(path string, sampleRate, channels int) *Sink {
	return &Sink{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Start opens the destination file and writes the placeholder header.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("recording sink already started")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create recording file: %w", err)
	}
	if _, err := f.Write(wavHeader(s.sampleRate, s.channels, 0)); err != nil {
		f.Close()
		return fmt.Errorf("write placeholder header: %w", err)
	}

	s.file = f
	s.started = true
	logging.Info(logging.CategoryRecording, "recording started path=%s", s.path)
	return nil
}

// OnFrame appends one frame of samples. Implements the audio tap contract;
// the slice is copied into the write buffer before the call returns. A
// no-op once finalized or before Start.
func (s *Sink) OnFrame(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.finalized || s.file == nil {
		return
	}

	need := len(frame) * 2
	if cap(s.writeBuf) < need {
		s.writeBuf = make([]byte, need)
	}
	buf := s.writeBuf[:need]
	for i, sample := range frame {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	if _, err := s.file.Write(buf); err != nil {
		logging.Error(logging.CategoryRecording, "append failed: %v", err)
		return
	}
	s.totalSamples += int64(len(frame))
}

// TotalSamples returns the running sample count.
func (s *Sink) TotalSamples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSamples
}

// Finalize rewrites the header with the true payload size and closes the
// file. Idempotent: a second call returns the already-finalized artifact
// without touching the file again.
func (s *Sink) Finalize() (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return s.artifact, nil
	}
	if !s.started || s.file == nil {
		return Artifact{}, fmt.Errorf("recording sink not started")
	}

	dataLen := s.totalSamples * 2
	if _, err := s.file.WriteAt(wavHeader(s.sampleRate, s.channels, uint32(dataLen)), 0); err != nil {
		return Artifact{}, fmt.Errorf("rewrite header: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close recording: %w", err)
	}
	s.file = nil
	s.finalized = true
	s.artifact = Artifact{
		Path:         s.path,
		SampleRate:   s.sampleRate,
		Channels:     s.channels,
		TotalSamples: s.totalSamples,
		Finalized:    true,
	}

	logging.Info(logging.CategoryRecording, "recording finalized path=%s samples=%d duration=%v", s.path, s.totalSamples, s.artifact.Duration())
	return s.artifact, nil
}

// Remove deletes the artifact file. Called after a successful upload
// acknowledgement or for explicit cleanup.
func (s *Sink) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	return os.Remove(s.path)
}

// wavHeader builds the 44-byte RIFF/WAVE header for a PCM16 payload of
// dataLen bytes.
func wavHeader(sampleRate, channels int, dataLen uint32) []byte {
	h := make([]byte, headerSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataLen)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*channels*2)) // byte rate
	binary.LittleEndian.PutUint16(h[32:34], uint16(channels*2))            // block align
	binary.LittleEndian.PutUint16(h[34:36], 16)                           // bits per sample
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataLen)
	return h
}
