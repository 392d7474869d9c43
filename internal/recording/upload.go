package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
)

// UploadMetadata is the JSON part sent alongside the recording file.
type UploadMetadata struct {
	MeetingID   string  `json:"meeting_id"`
	SessionID   string  `json:"session_id"`
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	DurationSec float64 `json:"duration_seconds"`
	ByteSize    int64   `json:"byte_size"`
}

// UploadError reports a non-2xx response from the upload endpoint. The
// caller may retry or ignore it; losing the upload is non-fatal to the
// session.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload rejected (HTTP %d): %s", e.StatusCode, e.Body)
}

// Upload sends a finalized artifact as a multipart request with a
// `metadata` JSON part and a `file` binary part. Success is any 2xx status.
func Upload(ctx context.Context, artifact Artifact, endpoint, token, meetingID, sessionID string) error {
	if !artifact.Finalized {
		return fmt.Errorf("artifact not finalized")
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	meta := UploadMetadata{
		MeetingID:   meetingID,
		SessionID:   sessionID,
		Format:      "wav",
		SampleRate:  artifact.SampleRate,
		Channels:    artifact.Channels,
		DurationSec: artifact.Duration().Seconds(),
		ByteSize:    artifact.ByteSize(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}

	part, err := writer.CreateFormFile("file", filepath.Base(artifact.Path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling upload endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	logging.Info(logging.CategoryRecording, "recording uploaded path=%s bytes=%d", artifact.Path, meta.ByteSize)
	return nil
}
