// Package control receives bot commands over a Redis pub/sub channel keyed
// by the bot's connection id. The backend uses it to ask a running bot to
// leave or to change transcription parameters mid-session.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LastBotInc/coralie-meeting-bot/internal/bot"
	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
)

// Command is one control message published to the bot's channel.
type Command struct {
	Action   string `json:"action"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task,omitempty"`
}

const (
	ActionLeave       = "leave"
	ActionReconfigure = "reconfigure"
)

// Controller is the slice of the bot the listener drives.
type Controller interface {
	RequestLeave(reason string)
	RequestReconfigure(req bot.ReconfigureRequest)
}

// Listener subscribes to the command channel and forwards decoded commands
// to the bot.
type Listener struct {
	client  *redis.Client
	channel string
	ctrl    Controller

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// ChannelFor returns the command channel name for a bot connection id.
func ChannelFor(connectionID string) string {
	return "bot_commands:" + connectionID
}

// NewListener connects to Redis and verifies the connection.
func NewListener(addr, password string, db int, connectionID string, ctrl Controller) (*Listener, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  -1, // pub/sub reads block indefinitely
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Listener{
		client:  client,
		channel: ChannelFor(connectionID),
		ctrl:    ctrl,
	}, nil
}

// Start subscribes and dispatches commands until ctx ends.
func (l *Listener) Start(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", l.channel, err)
	}

	l.mu.Lock()
	l.pubsub = pubsub
	l.mu.Unlock()

	logging.Info(logging.CategoryControl, "listening for commands channel=%s", l.channel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				l.dispatch(msg.Payload)
			}
		}
	}()
	return nil
}

func (l *Listener) dispatch(payload string) {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		logging.Warning(logging.CategoryControl, "unparseable command: %v", err)
		return
	}

	switch cmd.Action {
	case ActionLeave:
		logging.Info(logging.CategoryControl, "leave command received")
		l.ctrl.RequestLeave("control command")
	case ActionReconfigure:
		logging.Info(logging.CategoryControl, "reconfigure command received language=%s task=%s", cmd.Language, cmd.Task)
		l.ctrl.RequestReconfigure(bot.ReconfigureRequest{Language: cmd.Language, Task: cmd.Task})
	default:
		logging.Warning(logging.CategoryControl, "unknown command action=%s", cmd.Action)
	}
}

// Stop unsubscribes and closes the client. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	pubsub := l.pubsub
	l.pubsub = nil
	l.mu.Unlock()

	if pubsub != nil {
		pubsub.Close()
	}
	l.wg.Wait()
	l.client.Close()
}
