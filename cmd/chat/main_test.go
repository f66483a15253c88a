package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"instantlly/internal/models"
)

func TestOutgoing(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		msg, err := outgoing("bob", "hello")
		require.NoError(t, err)
		require.Equal(t, models.OutgoingMessage{
			ReceiverID:  "bob",
			Content:     "hello",
			MessageType: models.MessageTypeText,
		}, msg)
	})

	t.Run("Group", func(t *testing.T) {
		msg, err := outgoing("group:team", "standup")
		require.NoError(t, err)
		require.Equal(t, "team", msg.GroupID)
		require.Empty(t, msg.ReceiverID)
	})

	t.Run("Location", func(t *testing.T) {
		msg, err := outgoing("bob", "/loc 52.52, 13.405")
		require.NoError(t, err)
		require.Equal(t, models.MessageTypeLocation, msg.MessageType)
		require.Equal(t, &models.Location{Latitude: 52.52, Longitude: 13.405}, msg.Metadata.Location)

		_, err = outgoing("bob", "/loc 91,0")
		require.Error(t, err)
		_, err = outgoing("bob", "/loc here")
		require.Error(t, err)
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

		msg, err := outgoing("bob", "/file "+path)
		require.NoError(t, err)
		require.Equal(t, models.MessageTypeFile, msg.MessageType)
		require.Equal(t, "notes.txt", msg.Content)
		require.Equal(t, int64(10), msg.Metadata.File.Size)

		_, err = outgoing("bob", "/file")
		require.Error(t, err)
	})

	t.Run("UnknownCommand", func(t *testing.T) {
		_, err := outgoing("bob", "/dance")
		require.Error(t, err)
	})
}

func TestFormatMessage(t *testing.T) {
	ts := time.Date(2024, 1, 2, 15, 4, 5, 0, time.Local).UnixMilli()

	require.Equal(t, "[15:04:05] alice: hi", formatMessage(models.Message{
		SenderID: "alice", Content: "hi", Timestamp: ts, MessageType: models.MessageTypeText,
	}))
	require.Equal(t, "[15:04:05] alice@team: hi", formatMessage(models.Message{
		SenderID: "alice", GroupID: "team", Content: "hi", Timestamp: ts,
	}))
	require.Equal(t, "[15:04:05] alice is at 1.000000,2.000000", formatMessage(models.Message{
		SenderID:    "alice",
		Timestamp:   ts,
		MessageType: models.MessageTypeLocation,
		Metadata:    &models.Metadata{Location: &models.Location{Latitude: 1, Longitude: 2}},
	}))
	require.Equal(t, `[15:04:05] alice sent image "a.png" (image/png, 3 bytes)`, formatMessage(models.Message{
		SenderID:    "alice",
		Timestamp:   ts,
		MessageType: models.MessageTypeImage,
		Metadata:    &models.Metadata{File: &models.FileInfo{Name: "a.png", MimeType: "image/png", Size: 3}},
	}))
}
