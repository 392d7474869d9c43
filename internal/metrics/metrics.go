// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
)

var (
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_audio_frames_captured_total",
		Help: "Audio frames read from the capture process.",
	})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_audio_frames_dropped_total",
		Help: "Audio frames dropped because the transcription transport was down.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_transcription_reconnects_total",
		Help: "Transcription session reconnect attempts.",
	})
	SegmentsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_transcript_segments_total",
		Help: "Transcript segments received from the backend.",
	})
	SpeakerEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_speaker_events_total",
		Help: "Speaker START/END events emitted.",
	})
	Phase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_lifecycle_phase",
		Help: "Current lifecycle phase as an ordinal.",
	})
)

// Serve runs a metrics HTTP listener until ctx is cancelled. Blocks.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logging.Info(logging.CategoryApp, "starting metrics server addr=%s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error(logging.CategoryApp, "metrics server error: %v", err)
	}
}
