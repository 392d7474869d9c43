package chatlog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T) (*Bridge, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inspect := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { inspect.Close() })
	return &Bridge{client: client, meetingID: "meet-42"}, inspect
}

func TestBridgeWritesBracketedChatSession(t *testing.T) {
	ctx := context.Background()
	bridge, inspect := newTestBridge(t)

	require.NoError(t, bridge.Start(ctx))
	require.NoError(t, bridge.Append(ctx, "Alice", "hello everyone"))
	bridge.Stop(ctx)

	entries, err := inspect.XRange(ctx, StreamFor("meet-42"), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "session_start", entries[0].Values["type"])
	assert.Equal(t, "transcription", entries[1].Values["type"])
	assert.Equal(t, "session_end", entries[2].Values["type"])

	// All three records share the chat session's uid.
	uid := entries[0].Values["uid"]
	require.NotEmpty(t, uid)
	assert.Equal(t, uid, entries[1].Values["uid"])
	assert.Equal(t, uid, entries[2].Values["uid"])

	var rec chatRecord
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["payload"].(string)), &rec))
	assert.Equal(t, "Alice", rec.ParticipantName)
	require.Len(t, rec.Segments, 1)
	seg := rec.Segments[0]
	assert.Equal(t, "hello everyone", seg.Text)
	assert.True(t, seg.Completed)
	assert.Equal(t, seg.Start, seg.End)
	// The segment sits on the chat session's own time base, so it lands
	// moments after zero.
	assert.GreaterOrEqual(t, seg.Start, 0.0)
	assert.Less(t, seg.Start, 5.0)
}

func TestBridgeAppendBeforeStart(t *testing.T) {
	bridge, _ := newTestBridge(t)
	assert.Error(t, bridge.Append(context.Background(), "Alice", "too early"))
}

func TestBridgeDoubleStart(t *testing.T) {
	ctx := context.Background()
	bridge, _ := newTestBridge(t)
	require.NoError(t, bridge.Start(ctx))
	assert.Error(t, bridge.Start(ctx))
	bridge.Stop(ctx)
}

func TestBridgeStopIdempotent(t *testing.T) {
	ctx := context.Background()
	bridge, inspect := newTestBridge(t)
	require.NoError(t, bridge.Start(ctx))
	bridge.Stop(ctx)
	bridge.Stop(ctx)

	entries, err := inspect.XRange(ctx, StreamFor("meet-42"), "-", "+").Result()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
