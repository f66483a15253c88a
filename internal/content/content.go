package content

import (
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"

	"instantlly/internal/models"
)

const (
	// MaxMessageLength bounds the content of one message in runes, as sent.
	MaxMessageLength = 4096

	sniffLength = 261
)

var (
	policy      = bluemonday.StrictPolicy()
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize strips HTML markup from plain-text message content. The policy
// escapes what it keeps, so the result is unescaped again; clients render
// content as text, never as HTML.
func Sanitize(input string) string {
	return html.UnescapeString(policy.Sanitize(input))
}

// ValidateUserID checks if the user id contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.New("user id cannot be empty")
	}
	if !userIDRegex.MatchString(userID) {
		return errors.New("user id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// DescribeFile builds the metadata of a file message. The MIME type is
// sniffed from the file header, not taken from the extension.
func DescribeFile(path string) (models.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.IsDir() {
		return models.FileInfo{}, fmt.Errorf("%s is a directory", path)
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return models.FileInfo{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	mime := "application/octet-stream"
	if kind, err := filetype.Match(head[:n]); err == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}

	return models.FileInfo{
		Name:     filepath.Base(path),
		Size:     st.Size(),
		MimeType: mime,
	}, nil
}

// MessageTypeFor picks the message type matching a file's MIME type.
func MessageTypeFor(info models.FileInfo) models.MessageType {
	if strings.HasPrefix(info.MimeType, "image/") {
		return models.MessageTypeImage
	}
	return models.MessageTypeFile
}
