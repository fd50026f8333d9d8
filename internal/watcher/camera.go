package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// maxFrameBytes bounds a single snapshot read.
const maxFrameBytes = 32 << 20

// Camera produces frames on demand. Open is called once before the first
// Capture and Close once after the last.
type Camera interface {
	Open(ctx context.Context) error
	Capture(ctx context.Context) (*Frame, error)
	Close() error
}

// CaptureError reports a failed frame grab. It is transient: the watcher
// retries until too many happen in a row.
type CaptureError struct {
	Source string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Source, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// NewCamera picks an HTTPCamera for http(s) URLs and a FileCamera otherwise.
func NewCamera(source string) Camera {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return NewHTTPCamera(source, nil)
	}
	return NewFileCamera(source)
}

// decodeFrame decodes a JPEG or PNG image. Non-JPEG input is re-encoded so
// that every frame carries a JPEG snapshot.
func decodeFrame(data []byte, at time.Time) (*Frame, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	encoded := data
	if format != "jpeg" {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("encode snapshot: %w", err)
		}
		encoded = buf.Bytes()
	}
	b := img.Bounds()
	return &Frame{
		Image:      img,
		JPEG:       encoded,
		Width:      b.Dx(),
		Height:     b.Dy(),
		CapturedAt: at,
	}, nil
}

// FileCamera reads frames from an image file that an external grabber keeps
// rewriting, e.g. `ffmpeg -i /dev/video0 -update 1 /dev/shm/homewatch.jpg`.
// Each Capture waits for a write newer than the previous frame.
type FileCamera struct {
	path    string
	watcher *fsnotify.Watcher
	lastMod time.Time
}

func NewFileCamera(path string) *FileCamera {
	return &FileCamera{path: filepath.Clean(path)}
}

// Open starts watching the frame file's directory. Grabbers often replace
// the file by rename, so the directory is watched rather than the file.
func (c *FileCamera) Open(ctx context.Context) error {
	dir := filepath.Dir(c.path)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("frame directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.watcher = w
	return nil
}

func (c *FileCamera) Capture(ctx context.Context) (*Frame, error) {
	if c.watcher == nil {
		return nil, &CaptureError{Source: c.path, Err: errors.New("camera not open")}
	}
	var lastErr error
	for {
		frame, err := c.tryRead()
		if frame != nil {
			return frame, nil
		}
		if err != nil {
			// Partially written files fail to decode; wait for the next write.
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = errors.New("no fresh frame")
			}
			return nil, &CaptureError{Source: c.path, Err: fmt.Errorf("%w: %v", lastErr, ctx.Err())}
		case event, ok := <-c.watcher.Events:
			if !ok {
				return nil, &CaptureError{Source: c.path, Err: errors.New("watcher closed")}
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil, &CaptureError{Source: c.path, Err: errors.New("watcher closed")}
			}
			lastErr = err
		}
	}
}

// tryRead returns the frame if the file changed since the last capture.
// A nil frame and nil error mean nothing new yet.
func (c *FileCamera) tryRead() (*Frame, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, err
	}
	if info.ModTime().Equal(c.lastMod) {
		return nil, nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	frame, err := decodeFrame(data, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	c.lastMod = info.ModTime()
	return frame, nil
}

func (c *FileCamera) Close() error {
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}

// HTTPCamera fetches a still image from a snapshot URL, as most IP cameras
// expose.
type HTTPCamera struct {
	url    string
	client *http.Client
}

// NewHTTPCamera returns a camera for the given snapshot URL. A nil client
// uses http.DefaultClient; per-capture deadlines come from the context.
func NewHTTPCamera(snapshotURL string, client *http.Client) *HTTPCamera {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCamera{url: snapshotURL, client: client}
}

func (c *HTTPCamera) Open(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("camera url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("camera url %q has no host", c.url)
	}
	return nil
}

func (c *HTTPCamera) Capture(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &CaptureError{Source: c.url, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &CaptureError{Source: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CaptureError{Source: c.url, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return nil, &CaptureError{Source: c.url, Err: err}
	}
	frame, err := decodeFrame(data, time.Now().UTC())
	if err != nil {
		return nil, &CaptureError{Source: c.url, Err: err}
	}
	return frame, nil
}

func (c *HTTPCamera) Close() error { return nil }
