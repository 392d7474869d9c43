package transcription

import (
	"time"

	"github.com/google/uuid"
)

// SessionIdentity identifies one streaming connection's timeline: an opaque
// uid plus the instant the connection was established. A fresh identity is
// generated every time the transport is (re)opened and is never reused;
// timestamps computed against a replaced identity are meaningless.
type SessionIdentity struct {
	UID       string
	StartedAt time.Time
}

// NewSessionIdentity generates a fresh identity starting now.
func NewSessionIdentity() SessionIdentity {
	return SessionIdentity{
		UID:       uuid.NewString(),
		StartedAt: time.Now(),
	}
}

// IsZero reports whether the identity has not been assigned.
func (s SessionIdentity) IsZero() bool {
	return s.UID == ""
}

// RelativeMs returns t as milliseconds since the session start, clamped at
// zero so clock skew never produces a negative timestamp.
func (s SessionIdentity) RelativeMs(t time.Time) int64 {
	ms := t.Sub(s.StartedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return ms
}
