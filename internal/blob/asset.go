package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// MaxSize caps a single attachment.
const MaxSize = 10 << 20 // 10 MB

var (
	mimeToExt = map[string]string{
		"image/png":       ".png",
		"image/jpeg":      ".jpg",
		"image/gif":       ".gif",
		"image/webp":      ".webp",
		"image/svg+xml":   ".svg",
		"application/pdf": ".pdf",
	}
	extToMIME = map[string]string{
		".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg",
		".gif": "image/gif", ".webp": "image/webp", ".svg": "image/svg+xml",
		".pdf": "application/pdf",
	}

	safeFilenameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// ExtForMIME maps a content type to its file extension, or "".
func ExtForMIME(contentType string) string {
	return mimeToExt[strings.TrimSpace(strings.Split(contentType, ";")[0])]
}

// ContentType returns the MIME type for a file name by extension.
func ContentType(name string) string {
	return extToMIME[strings.ToLower(filepath.Ext(name))]
}

// Sanitize strips path separators and unsafe characters from a file name.
func Sanitize(name string) string {
	name = filepath.Base(name)
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "_" {
		name = uuid.NewString()
	}
	return name
}

// Check validates an attachment: size, allowed extension and content
// matching that extension.
func Check(name string, data []byte) error {
	if len(data) > MaxSize {
		return fmt.Errorf("%w: file too large: %d bytes (max %d)", apperr.ErrInvalid, len(data), MaxSize)
	}
	ext := strings.ToLower(filepath.Ext(name))
	if extToMIME[ext] == "" {
		return fmt.Errorf("%w: unsupported file extension: %q (allowed: png, jpg, jpeg, gif, webp, svg, pdf)", apperr.ErrInvalid, ext)
	}
	if ext == ".svg" {
		prefix := data
		if len(prefix) > 1024 {
			prefix = prefix[:1024]
		}
		if !bytes.Contains(prefix, []byte("<svg")) {
			return fmt.Errorf("%w: content does not appear to be a valid SVG", apperr.ErrInvalid)
		}
		return nil
	}

	detected := http.DetectContentType(data)
	got := ExtForMIME(detected)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	if got != ext {
		return fmt.Errorf("%w: content does not match extension %s (detected: %s)", apperr.ErrInvalid, ext, detected)
	}
	return nil
}

// EntityKey names the attachment of one entity. A fresh segment per
// upload keeps the old file addressable until the swap commits.
func EntityKey(owner, entityID, name string) string {
	return Sanitize(owner) + "/" + Sanitize(entityID) + "/" + uuid.NewString()[:8] + "-" + Sanitize(name)
}

// Options select and configure a backend.
type Options struct {
	Backend string // "fs" or "s3"
	FSDir   string
	FSURL   string
	S3      S3Options
}

// Open returns the configured backend.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Backend {
	case "fs", "":
		return NewFS(o.FSDir, o.FSURL)
	case "s3":
		return NewS3(ctx, o.S3)
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", o.Backend)
	}
}
