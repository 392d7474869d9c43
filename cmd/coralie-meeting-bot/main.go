package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LastBotInc/coralie-meeting-bot/internal/bot"
	"github.com/LastBotInc/coralie-meeting-bot/internal/chatlog"
	"github.com/LastBotInc/coralie-meeting-bot/internal/config"
	"github.com/LastBotInc/coralie-meeting-bot/internal/control"
	"github.com/LastBotInc/coralie-meeting-bot/internal/logging"
	"github.com/LastBotInc/coralie-meeting-bot/internal/metrics"
	"github.com/LastBotInc/coralie-meeting-bot/internal/platform"
	"github.com/LastBotInc/coralie-meeting-bot/internal/version"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel)
	logging.Info(logging.CategoryApp, "starting coralie-meeting-bot version=%s platform=%s meeting=%s", version.Version, cfg.Platform, cfg.MeetingID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the platform adapter
	adapter, err := platform.New(cfg.Platform, cfg.MeetingURL, cfg.BotName)
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to create platform adapter: %v", err)
		os.Exit(1)
	}

	var detector platform.SpeakerDetector = platform.NoopDetector{}
	if d, ok := adapter.(platform.SpeakerDetector); ok {
		detector = d
	} else {
		logging.Warning(logging.CategoryApp, "adapter provides no speaker detection, transcript will lack attribution")
	}

	b := bot.New(cfg, adapter, detector, nil)

	// Optional metrics listener
	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr)
	}

	// Optional control channel
	if cfg.RedisAddr != "" && cfg.ConnectionID != "" {
		listener, err := control.NewListener(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ConnectionID, b)
		if err != nil {
			logging.Fail(logging.CategoryApp, "failed to connect control channel: %v", err)
			os.Exit(1)
		}
		if err := listener.Start(ctx); err != nil {
			logging.Fail(logging.CategoryApp, "failed to start control listener: %v", err)
			os.Exit(1)
		}
		defer listener.Stop()
	}

	// Optional chat-to-transcript bridge
	if cfg.ChatLogEnabled && cfg.RedisAddr != "" {
		if observer, ok := adapter.(platform.ChatObserver); ok {
			bridge, err := chatlog.NewBridge(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.MeetingID)
			if err != nil {
				logging.Error(logging.CategoryChat, "chat log disabled: %v", err)
			} else if err := bridge.Start(ctx); err != nil {
				logging.Error(logging.CategoryChat, "chat log disabled: %v", err)
			} else {
				stopChat := observer.StartChatMonitor(func(sender, text string) {
					if err := bridge.Append(ctx, sender, text); err != nil {
						logging.Warning(logging.CategoryChat, "chat message not recorded: %v", err)
					}
				})
				defer func() {
					stopChat()
					bridge.Stop(context.Background())
				}()
			}
		} else {
			logging.Warning(logging.CategoryChat, "adapter provides no chat monitor, chat log disabled")
		}
	}

	// A shutdown signal becomes an orderly leave request.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logging.Info(logging.CategoryApp, "received shutdown signal, leaving meeting")
		b.RequestLeave("shutdown signal")
	}()

	// Run the lifecycle (blocks until Ended)
	if err := b.Run(ctx); err != nil {
		logging.Fail(logging.CategoryApp, "bot failed: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "bot shutdown complete")
}
