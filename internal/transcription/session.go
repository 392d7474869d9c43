// Package transcription owns the streaming connection to the transcription
// backend: connect, send configuration, forward audio and speaker events,
// receive transcript segments, and reconnect with a fresh session identity
// when the transport drops.
package transcription

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
	"github.com/LastBotInc/coralie-meeting-bot/internal/metrics"
)

// SegmentHandler receives transcript segments together with the uid of the
// session identity they belong to.
type SegmentHandler func(uid string, segments []TranscriptSegment)

// Config holds the per-session parameters sent to the backend on open.
type Config struct {
	URL            string
	Token          string
	Language       string
	Task           string
	Platform       string
	MeetingID      string
	MeetingURL     string
	ReconnectDelay time.Duration
	OnSegments     SegmentHandler
}

// Session is one logical streaming session. The transport underneath it may
// be re-established any number of times; each re-establishment rotates the
// session identity, so the backend always sees a logically new session with
// timestamps starting near zero.
type Session struct {
	cfg Config

	mu       sync.Mutex
	conn     *websocket.Conn
	identity SessionIdentity
	open     bool
	closing  bool
	audioBuf []byte // reused for float32 serialization, guarded by mu

	ctx context.Context
	wg  sync.WaitGroup
}

// NewSession creates a session. The transport is not established until Open.
func NewSession(cfg Config) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Session{cfg: cfg}
}

// Open establishes the transport, sends the configuration message and a
// session_start control record, and starts the read loop. It does not
// return success until the websocket handshake has completed. The returned
// identity is freshly generated; Open on an already-open or closed
// session is an error. A closed session stays closed: reopening would let
// a reconnect attempt racing Close resurrect the session after Close
// returned.
func (s *Session) Open(ctx context.Context) (SessionIdentity, error) {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return SessionIdentity{}, fmt.Errorf("session already open")
	}
	if s.closing {
		s.mu.Unlock()
		return SessionIdentity{}, fmt.Errorf("session closed")
	}
	s.ctx = ctx
	s.mu.Unlock()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return SessionIdentity{}, fmt.Errorf("dial transcription backend: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	identity := NewSessionIdentity()

	cfgMsg := configMessage{
		UID:        identity.UID,
		Language:   s.cfg.Language,
		Task:       s.cfg.Task,
		Platform:   s.cfg.Platform,
		Token:      s.cfg.Token,
		MeetingID:  s.cfg.MeetingID,
		MeetingURL: s.cfg.MeetingURL,
	}
	if err := conn.WriteJSON(cfgMsg); err != nil {
		conn.Close()
		return SessionIdentity{}, fmt.Errorf("send config: %w", err)
	}

	s.mu.Lock()
	if s.closing {
		// Close raced the dial; drop the fresh connection.
		s.mu.Unlock()
		conn.Close()
		return SessionIdentity{}, fmt.Errorf("session closed during open")
	}
	s.conn = conn
	s.identity = identity
	s.open = true
	s.writeControlLocked(sessionEventStart)
	s.mu.Unlock()

	logging.Info(logging.CategoryTranscription, "session open uid=%s language=%s task=%s", identity.UID, s.cfg.Language, s.cfg.Task)

	s.wg.Add(1)
	go s.readLoop(conn, identity.UID)

	return identity, nil
}

// CurrentIdentity returns the identity of the currently open transport, or
// the zero identity when the transport is down.
func (s *Session) CurrentIdentity() SessionIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return SessionIdentity{}
	}
	return s.identity
}

// SendAudio forwards one frame of 16-bit PCM samples as little-endian
// float32 binary. Non-blocking contract: when the transport is not open the
// frame is dropped and false is returned, never buffered.
func (s *Session) SendAudio(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.conn == nil {
		metrics.FramesDropped.Inc()
		return false
	}

	need := len(samples) * 4
	if cap(s.audioBuf) < need {
		s.audioBuf = make([]byte, need)
	}
	buf := s.audioBuf[:need]
	for i, sample := range samples {
		f := float32(sample) / 32768.0
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		logging.Warning(logging.CategoryTranscription, "audio write failed uid=%s: %v", s.identity.UID, err)
		s.dropConnLocked()
		return false
	}
	return true
}

// SendSpeakerEvent forwards one speaker transition. Events computed against
// a since-closed identity are discarded.
func (s *Session) SendSpeakerEvent(ev SpeakerEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open || s.conn == nil {
		return false
	}
	if ev.UID != s.identity.UID {
		logging.Debug(logging.CategoryTranscription, "dropping speaker event for stale uid=%s", ev.UID)
		return false
	}

	msg := speakerActivityMessage{
		Type:              messageTypeSpeakerActivity,
		EventType:         string(ev.Kind),
		ParticipantName:   ev.ParticipantLabel,
		ParticipantID:     ev.ParticipantID,
		RelativeTimestamp: ev.RelativeMs,
		UID:               ev.UID,
		Token:             s.cfg.Token,
		Platform:          s.cfg.Platform,
		MeetingID:         s.cfg.MeetingID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Warning(logging.CategoryTranscription, "speaker event write failed uid=%s: %v", ev.UID, err)
		s.dropConnLocked()
		return false
	}
	metrics.SpeakerEvents.Inc()
	return true
}

// Close tears the session down deterministically. Idempotent and safe to
// call from a failure handler; it suppresses the automatic reconnect path.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing && s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	if s.conn != nil {
		s.writeControlLocked(sessionEventEnd)
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
		s.conn = nil
	}
	s.open = false
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info(logging.CategoryTranscription, "session closed")
	return nil
}

// writeControlLocked sends a session boundary record best-effort. Caller
// holds mu and guarantees conn is non-nil.
func (s *Session) writeControlLocked(event string) {
	msg := sessionControlMessage{
		Type:            messageTypeSessionControl,
		Event:           event,
		UID:             s.identity.UID,
		ClientTimestamp: time.Now().UnixMilli(),
		Token:           s.cfg.Token,
		Platform:        s.cfg.Platform,
		MeetingID:       s.cfg.MeetingID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Debug(logging.CategoryTranscription, "session control write failed event=%s: %v", event, err)
	}
}

// dropConnLocked discards a broken connection so the read loop's error path
// takes over. Caller holds mu.
func (s *Session) dropConnLocked() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.open = false
}

func (s *Session) readLoop(conn *websocket.Conn, uid string) {
	defer s.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(conn, uid, err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debug(logging.CategoryTranscription, "unparseable server message uid=%s: %v", uid, err)
			continue
		}

		switch {
		case msg.Status == statusWait:
			logging.Warning(logging.CategoryTranscription, "server at capacity uid=%s", uid)
		case len(msg.Segments) > 0:
			metrics.SegmentsReceived.Add(float64(len(msg.Segments)))
			if s.cfg.OnSegments != nil {
				s.cfg.OnSegments(uid, msg.Segments)
			}
		default:
			// Unrecognized control message: ignored, not an error.
		}
	}
}

func (s *Session) handleDisconnect(conn *websocket.Conn, uid string, err error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	if s.conn == conn {
		s.conn = nil
		s.open = false
	}
	ctx := s.ctx
	s.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		logging.Info(logging.CategoryTranscription, "transport closed uid=%s: %v", uid, err)
	} else {
		logging.Warning(logging.CategoryTranscription, "transport error uid=%s: %v", uid, err)
	}

	go s.reconnectLoop(ctx)
}

// reconnectLoop retries the transport on a fixed delay until it succeeds,
// the session is closed, or the context ends. Attempts are unbounded; each
// successful attempt carries a freshly generated identity.
func (s *Session) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}

		s.mu.Lock()
		if s.closing || s.open {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		metrics.Reconnects.Inc()
		identity, err := s.Open(ctx)
		if err != nil {
			logging.Warning(logging.CategoryTranscription, "reconnect attempt failed: %v", err)
			continue
		}
		logging.Info(logging.CategoryTranscription, "reconnected uid=%s", identity.UID)
		return
	}
}
