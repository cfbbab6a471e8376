package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrPayloadTooLarge is returned when a download would exceed its byte
// budget. The stream is cancelled as soon as the limit is crossed; the
// caller never sees a partial buffer.
var ErrPayloadTooLarge = errors.New("payload too large")

var mediaHTTPClient = &http.Client{Timeout: 2 * time.Minute}

// FetchResult is a bounded in-memory download.
type FetchResult struct {
	Data        []byte
	ContentType string
}

// FetchRemoteMedia downloads url into memory, enforcing maxBytes with
// the streaming contract: an advertised Content-Length over the limit
// fails without reading the body, and an unadvertised oversized body is
// cut off as soon as the accumulated size crosses the limit.
func FetchRemoteMedia(ctx context.Context, url string, maxBytes int64) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := mediaHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media: HTTP %d", resp.StatusCode)
	}

	data, err := ReadAllLimited(resp.Body, resp.ContentLength, maxBytes)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// ReadAllLimited reads r fully, failing with ErrPayloadTooLarge the
// moment more than maxBytes would accumulate. contentLength is the
// advertised size (-1 if unknown); when it already exceeds the limit
// the body is not read at all.
func ReadAllLimited(r io.Reader, contentLength, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("invalid max bytes %d", maxBytes)
	}
	if contentLength > maxBytes {
		return nil, fmt.Errorf("advertised %d bytes over limit %d: %w", contentLength, maxBytes, ErrPayloadTooLarge)
	}

	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if int64(len(buf))+int64(n) > maxBytes {
				return nil, fmt.Errorf("body exceeds limit %d: %w", maxBytes, ErrPayloadTooLarge)
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
}

// SaveInboundMedia writes downloaded attachment bytes under
// {workspace}/media/inbound and returns the file path. The filename is
// a fresh uuid plus an extension inferred from the content type.
func SaveInboundMedia(workspace string, data []byte, contentType string) (string, error) {
	dir := filepath.Join(workspace, "media", "inbound")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+ExtensionForMime(contentType))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return path, nil
}

// ExtensionForMime maps common MIME types to a file extension,
// defaulting to ".bin".
func ExtensionForMime(contentType string) string {
	mt := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mt = parsed
	}
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

// MimeForPath infers a MIME type from a local file extension.
func MimeForPath(path string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// isRemoteURL reports whether s is an http(s) URL rather than a local path.
func isRemoteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
