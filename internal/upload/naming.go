package upload

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidFilename = errors.New("invalid filename")

const maxFilenameLen = 128

// sanitizeFilename reduces a client supplied name to a flat base name made of
// letters, digits, '.', '-' and '_'. An empty name gets a timestamped default.
func sanitizeFilename(name string, now time.Time) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return fmt.Sprintf("rec_%d.webm", now.UnixMilli()), nil
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "", ErrInvalidFilename
	}
	if len(out) > maxFilenameLen {
		ext := path.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:maxFilenameLen-len(ext)] + ext
	}
	return out, nil
}

// uniqueName inserts a timestamp and a short random id before the extension.
func uniqueName(name string, now time.Time) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s_%d_%s%s", stem, now.UnixMilli(), uuid.NewString()[:8], ext)
}
