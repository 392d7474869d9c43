package transcription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionIdentityUnique(t *testing.T) {
	a := NewSessionIdentity()
	b := NewSessionIdentity()
	assert.NotEqual(t, a.UID, b.UID)
	assert.False(t, a.IsZero())
}

func TestRelativeMsClampedAtZero(t *testing.T) {
	id := NewSessionIdentity()
	assert.Equal(t, int64(0), id.RelativeMs(id.StartedAt.Add(-time.Second)))
	assert.Equal(t, int64(1500), id.RelativeMs(id.StartedAt.Add(1500*time.Millisecond)))
}

func TestRelativeMsMonotonic(t *testing.T) {
	id := NewSessionIdentity()
	var prev int64
	for i := 0; i < 10; i++ {
		ms := id.RelativeMs(id.StartedAt.Add(time.Duration(i) * 137 * time.Millisecond))
		assert.GreaterOrEqual(t, ms, prev)
		prev = ms
	}
}
