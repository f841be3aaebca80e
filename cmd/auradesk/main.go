package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/client"
	"github.com/cyb3rh3ad/auradesk/internal/config"
	"github.com/cyb3rh3ad/auradesk/internal/transport/wsclient"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
	"github.com/cyb3rh3ad/auradesk/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "directory containing auradesk.yaml")
	userID := flag.String("user", "", "user id to sign in as")
	displayName := flag.String("name", "", "display name (defaults to user id)")
	conversationID := flag.String("conversation", "lobby", "conversation to join")
	serverURL := flag.String("server", "", "backend URL (overrides config)")
	flag.Parse()

	if *userID == "" {
		return fmt.Errorf("missing -user")
	}
	if *displayName == "" {
		*displayName = *userID
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *serverURL == "" {
		*serverURL = cfg.Client.ServerURL
	}

	log := logger.NewConsole(cfg.Log.Level, "auradesk")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	token, err := wsclient.Login(ctx, *serverURL, *userID, *displayName)
	cancel()
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	tr := wsclient.New(*serverURL, token, *userID, log)
	defer tr.Close()

	opts := client.DefaultOptions()
	opts.SnapshotLimit = cfg.Client.SnapshotLimit
	c := client.New(tr, tr, tr, actor.RealClock{}, log, opts)
	defer c.Close()

	conv := c.WatchConversation(*conversationID)
	defer conv.Close()
	typing := c.WatchTyping(*conversationID)
	defer typing.Close()
	presence := c.WatchPresence(*conversationID)
	defer presence.Close()
	presence.SetStatus(wire.StatusOnline)

	fmt.Printf("joined %s as %s (/retry <id>, /status <s>, /quit)\n", *conversationID, *userID)

	go renderLoop(conv, typing)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			presence.SetStatus(wire.StatusOffline)
			return nil
		case strings.HasPrefix(line, "/retry "):
			conv.RetrySend(strings.TrimSpace(strings.TrimPrefix(line, "/retry ")))
		case strings.HasPrefix(line, "/status "):
			status := wire.PresenceStatus(strings.TrimSpace(strings.TrimPrefix(line, "/status ")))
			if !status.Valid() {
				fmt.Println("usage: /status online|idle|in_call|offline")
				continue
			}
			presence.SetStatus(status)
		default:
			localID := conv.Send(line)
			typing.Announce(false)
			log.Debug().Str("localId", localID).Msg("queued message")
		}
	}
	return scanner.Err()
}

// renderLoop reprints the conversation whenever the view or the typing set
// changes.
func renderLoop(conv *client.ConversationView, typing *client.EphemeralView) {
	for {
		select {
		case _, ok := <-conv.Updates():
			if !ok {
				return
			}
		case _, ok := <-typing.Updates():
			if !ok {
				return
			}
		}

		st := conv.Status()
		fmt.Printf("-- %s", st.Phase)
		if st.Stale {
			fmt.Print(" (stale)")
		}
		fmt.Println(" --")

		for _, m := range conv.Messages() {
			marker := ""
			if m.Pending {
				marker = " [sending]"
			} else if m.Failed {
				marker = fmt.Sprintf(" [failed, /retry %s]", m.Msg.LocalID)
			}
			fmt.Printf("%s: %s%s\n", m.Sender.DisplayName, m.Msg.Content, marker)
		}

		if peers := typing.Typing(); len(peers) > 0 {
			fmt.Printf("typing: %s\n", strings.Join(peers, ", "))
		}
	}
}
