package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"instantlly/internal/cache"
	"instantlly/internal/config"
	"instantlly/internal/content"
	"instantlly/internal/messaging"
	"instantlly/internal/models"
)

var errQuit = errors.New("quit")

func run(ctx context.Context, userID, token, to string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if err := content.ValidateUserID(userID); err != nil {
		return fmt.Errorf("-user: %w", err)
	}

	client, err := messaging.New(messaging.Options{
		ServerURL:      cfg.ServerURL(),
		ConnectTimeout: cfg.ConnectTimeout,
		ReconnectDelay: cfg.ReconnectDelay,
		Cache:          cache.New(ctx, 0),
	})
	if err != nil {
		return err
	}
	defer client.Disconnect()

	client.OnMessage(func(msg models.Message) {
		_, _ = fmt.Fprintln(out, formatMessage(msg))
	})
	client.OnPresence(func(payload json.RawMessage) {
		var p models.Presence
		if err := json.Unmarshal(payload, &p); err != nil {
			return
		}
		state := "offline"
		if p.Online {
			state = "online"
		}
		_, _ = fmt.Fprintf(out, "* %s is %s\n", p.UserID, state)
	})

	if err := client.Connect(ctx, userID, token); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "* connected via %s\n", client.Status().Mode)

	// Scan blocks until input arrives, so the reader stays outside the
	// group and is abandoned on exit.
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := handleLine(client, to, line, out); err != nil {
					return err
				}
			case <-gCtx.Done():
				return gCtx.Err()
			}
		}
	})

	// report transport switches, e.g. a fallback after a dropped WebSocket
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last := client.Status()
		for {
			select {
			case <-ticker.C:
				if st := client.Status(); st != last {
					_, _ = fmt.Fprintf(out, "* mode=%s connected=%t\n", st.Mode, st.Connected)
					last = st
				}
			case <-gCtx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func handleLine(client *messaging.Client, to, line string, out io.Writer) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		return errQuit
	case "/status":
		st := client.Status()
		_, _ = fmt.Fprintf(out, "* mode=%s connected=%t\n", st.Mode, st.Connected)
		return nil
	case "/history":
		n := 20
		if arg != "" {
			if v, err := strconv.Atoi(arg); err == nil && v > 0 {
				n = v
			}
		}
		for _, msg := range client.History(to, n) {
			_, _ = fmt.Fprintln(out, formatMessage(msg))
		}
		return nil
	}

	msg, err := outgoing(to, line)
	if err != nil {
		_, _ = fmt.Fprintf(out, "! %v\n", err)
		return nil
	}
	id := client.Send(msg)
	if !client.Status().Connected {
		_, _ = fmt.Fprintf(out, "! not connected, %s was not sent\n", id)
	}
	return nil
}

// outgoing turns one input line into a message for to. A "group:" prefix
// on to addresses a group.
func outgoing(to, line string) (models.OutgoingMessage, error) {
	msg := models.OutgoingMessage{MessageType: models.MessageTypeText, Content: line}
	if groupID, ok := strings.CutPrefix(to, "group:"); ok {
		msg.GroupID = groupID
	} else {
		msg.ReceiverID = to
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/file":
		if arg == "" {
			return models.OutgoingMessage{}, errors.New("usage: /file <path>")
		}
		info, err := content.DescribeFile(arg)
		if err != nil {
			return models.OutgoingMessage{}, err
		}
		msg.Content = info.Name
		msg.MessageType = content.MessageTypeFor(info)
		msg.Metadata = &models.Metadata{File: &info}
	case "/loc":
		latStr, lngStr, ok := strings.Cut(arg, ",")
		if !ok {
			return models.OutgoingMessage{}, errors.New("usage: /loc <lat>,<lng>")
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
		if err != nil {
			return models.OutgoingMessage{}, fmt.Errorf("latitude: %w", err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
		if err != nil {
			return models.OutgoingMessage{}, fmt.Errorf("longitude: %w", err)
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return models.OutgoingMessage{}, errors.New("coordinates out of range")
		}
		msg.Content = fmt.Sprintf("%.6f,%.6f", lat, lng)
		msg.MessageType = models.MessageTypeLocation
		msg.Metadata = &models.Metadata{Location: &models.Location{Latitude: lat, Longitude: lng}}
	default:
		if strings.HasPrefix(cmd, "/") {
			return models.OutgoingMessage{}, fmt.Errorf("unknown command %s", cmd)
		}
	}
	return msg, nil
}

func formatMessage(msg models.Message) string {
	ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
	where := msg.SenderID
	if msg.GroupID != "" {
		where = msg.SenderID + "@" + msg.GroupID
	}
	switch msg.MessageType {
	case models.MessageTypeFile, models.MessageTypeImage:
		if msg.Metadata != nil && msg.Metadata.File != nil {
			f := msg.Metadata.File
			return fmt.Sprintf("[%s] %s sent %s %q (%s, %d bytes)", ts, where, msg.MessageType, f.Name, f.MimeType, f.Size)
		}
	case models.MessageTypeLocation:
		if msg.Metadata != nil && msg.Metadata.Location != nil {
			l := msg.Metadata.Location
			return fmt.Sprintf("[%s] %s is at %.6f,%.6f", ts, where, l.Latitude, l.Longitude)
		}
	}
	return fmt.Sprintf("[%s] %s: %s", ts, where, msg.Content)
}

func main() {
	userID := flag.String("user", "", "Your user id")
	token := flag.String("token", "", "Token issued by the gateway (see -issue-token)")
	to := flag.String("to", "", "Peer id, or group:<id>, to chat with")
	flag.Parse()

	if *userID == "" || *token == "" || *to == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *userID, *token, *to, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
