package messaging

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewMessageID returns "<unix millis>-<9 random base36 chars>".
func NewMessageID(now time.Time) string {
	var b [9]byte
	_, _ = rand.Read(b[:])
	for i := range b {
		b[i] = idAlphabet[int(b[i])%len(idAlphabet)]
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(b[:])
}

// NewDeviceID identifies one connection session of this client.
func NewDeviceID() string {
	return "device-" + uuid.NewString()
}
