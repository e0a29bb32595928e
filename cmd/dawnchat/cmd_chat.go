// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dawnchat/dawnchat-go/internal/chatstore"
	"github.com/dawnchat/dawnchat-go/internal/config"
	"github.com/dawnchat/dawnchat-go/internal/events"
	"github.com/dawnchat/dawnchat-go/internal/protocol"
	"github.com/dawnchat/dawnchat-go/internal/realtime"
	"github.com/dawnchat/dawnchat-go/internal/util"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("session", "", "session id to resume (default: the host-assigned session)")
	chatCmd.Flags().Bool("events", false, "print connection events")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sessionFlag, _ := cmd.Flags().GetString("session")
		showEvents, _ := cmd.Flags().GetBool("events")
		return runChat(cfg, sessionFlag, showEvents)
	},
}

func runChat(cfg *config.Config, sessionID string, showEvents bool) error {
	store, cleanup, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := events.NewBroadcaster()
	if showEvents {
		ch, cancel := sink.Subscribe()
		defer cancel()
		go func() {
			for ev := range ch {
				fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", ev.Level, ev.Code, ev.Message)
			}
		}()
	}

	rtCfg := realtime.DefaultConfig(cfg.Host.WSURL)
	rtCfg.ProjectID = cfg.ProjectID
	rtCfg.Capabilities = cfg.Realtime.Capabilities
	rtCfg.HeartbeatInterval = cfg.Realtime.HeartbeatInterval()
	rtCfg.ReconnectDisabled = cfg.Realtime.ReconnectDisabled
	rtCfg.ReconnectBaseDelay = cfg.Realtime.ReconnectBaseDelay()
	rtCfg.MaxReconnectAttempts = cfg.Realtime.MaxReconnectAttempts
	rtCfg.Sink = sink

	client := realtime.NewClient(rtCfg)
	defer client.Disconnect()

	client.OnHandshake(func(info realtime.SessionInfo) {
		id := sessionID
		if id == "" {
			id = info.SessionID
		}
		if err := store.LoadSession(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "load session %s: %v\n", id, err)
			return
		}
		for _, ui := range store.UIMessages() {
			printUIMessage(ui)
		}
		fmt.Fprintf(os.Stderr, "connected: session %s (server %s)\n", id, info.ServerVersion)
	})

	client.OnMessage(func(env protocol.Envelope) {
		if err := store.AddMessage(ctx, protocol.RawFromEnvelope(env)); err != nil {
			fmt.Fprintf(os.Stderr, "store message: %v\n", err)
			return
		}
		if msgs := store.UIMessages(); len(msgs) > 0 {
			printUIMessage(msgs[len(msgs)-1])
		}
	})

	client.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "connection error: %v\n", err)
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Host.WSURL, err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "bye")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			receipt := client.SendUserCommand(map[string]any{"command": line})
			echo := protocol.RawFromEnvelope(protocol.Build(protocol.Envelope{
				MessageID: receipt.MessageID,
				TraceID:   receipt.TraceID,
				Type:      protocol.TypeUserCommand,
				Direction: protocol.DirectionRequest,
				Payload:   map[string]any{"command": line},
			}, cfg.ProjectID))
			if err := store.AddMessage(ctx, echo); err != nil {
				fmt.Fprintf(os.Stderr, "store message: %v\n", err)
			}
		}
	}
}

// newStore builds the chat store with the configured persistence backend.
func newStore(cfg *config.Config) (*chatstore.Store, func(), error) {
	opts := chatstore.Options{Namespace: cfg.Storage.Namespace}
	cleanup := func() {}

	if strings.EqualFold(cfg.Storage.Driver, "sqlite") {
		adapter, err := chatstore.NewSQLiteAdapter(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open chat database: %w", err)
		}
		opts.Adapter = adapter
		cleanup = func() { adapter.Close() }
	} else {
		opts.Adapter = chatstore.NewMemoryAdapter()
	}

	return chatstore.New(opts), cleanup, nil
}

func printUIMessage(ui chatstore.UIMessage) {
	switch ui.Kind {
	case chatstore.UIKindUser:
		fmt.Printf("you> %s\n", ui.Content)
	case chatstore.UIKindToolCall:
		fmt.Printf("tool %s: running\n", ui.ToolName)
	case chatstore.UIKindToolResult:
		status := "ok"
		if !ui.Success {
			status = "failed"
		}
		fmt.Printf("tool %s: %s %s\n", ui.ToolName, status, util.TruncateRunes(ui.Result, 200))
	case chatstore.UIKindHILRequest:
		fmt.Printf("approval needed [%s]: %s\n", ui.RequestID, ui.Content)
	case chatstore.UIKindError:
		fmt.Printf("error: %s\n", ui.Content)
	case chatstore.UIKindStream:
		fmt.Print(ui.Content)
	default:
		if ui.Content != "" {
			fmt.Printf("%s> %s\n", ui.SenderID, ui.Content)
		}
	}
}
