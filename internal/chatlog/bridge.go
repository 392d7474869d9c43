// Package chatlog mirrors meeting chat messages into the shared
// append-only transcript log. Chat entries ride the same record structure
// as the main transcript feed but on their own timeline: a chat session
// has its own start instant and is bracketed by its own session_start and
// session_end records.
package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
)

// StreamFor returns the append-only log key for a meeting.
func StreamFor(meetingID string) string {
	return "meeting_transcript:" + meetingID
}

type chatSegment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
	Completed bool    `json:"completed"`
}

type chatRecord struct {
	ParticipantName string        `json:"participant_name"`
	Segments        []chatSegment `json:"segments"`
}

// Bridge appends chat messages to the meeting's transcript log.
type Bridge struct {
	client    *redis.Client
	meetingID string

	mu      sync.Mutex
	uid     string
	started time.Time
	open    bool
}

// NewBridge connects to Redis and verifies the connection.
func NewBridge(addr, password string, db int, meetingID string) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Bridge{client: client, meetingID: meetingID}, nil
}

// Start opens the chat timeline and writes its session_start record.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return fmt.Errorf("chat bridge already started")
	}

	b.uid = uuid.NewString()
	b.started = time.Now()

	if err := b.append(ctx, "session_start", nil); err != nil {
		return err
	}
	b.open = true
	logging.Info(logging.CategoryChat, "chat log started meeting=%s uid=%s", b.meetingID, b.uid)
	return nil
}

// Append records one chat message as a transcription-typed record carrying
// a synthetic segment on the chat session's time base.
func (b *Bridge) Append(ctx context.Context, sender, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return fmt.Errorf("chat bridge not started")
	}

	at := time.Since(b.started).Seconds()
	rec := chatRecord{
		ParticipantName: sender,
		Segments: []chatSegment{{
			Start:     at,
			End:       at,
			Text:      text,
			Completed: true,
		}},
	}
	return b.append(ctx, "transcription", &rec)
}

// Stop writes the session_end record and closes the connection.
// Idempotent.
func (b *Bridge) Stop(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return
	}
	b.open = false

	if err := b.append(ctx, "session_end", nil); err != nil {
		logging.Warning(logging.CategoryChat, "chat session_end not recorded: %v", err)
	}
	b.client.Close()
	logging.Info(logging.CategoryChat, "chat log stopped meeting=%s", b.meetingID)
}

// append writes one record to the meeting's stream. Caller holds mu.
func (b *Bridge) append(ctx context.Context, recordType string, rec *chatRecord) error {
	values := map[string]interface{}{
		"type":      recordType,
		"uid":       b.uid,
		"timestamp": time.Now().UnixMilli(),
	}
	if rec != nil {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal chat record: %w", err)
		}
		values["payload"] = string(payload)
	}

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamFor(b.meetingID),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("append chat record: %w", err)
	}
	return nil
}
