package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/faceauth/internal/fingerprint"
)

var (
	// ErrSourceUnavailable is returned when a frame source cannot be opened
	// or fails permanently.
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrFrameDropped marks a transient acquisition failure; the session
	// skips the frame and keeps going.
	ErrFrameDropped = errors.New("frame dropped")
	// ErrEndOfStream is returned by finite sources once every frame was read.
	ErrEndOfStream = errors.New("end of stream")
)

// FrameSource yields frames on demand.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener acquires a frame source. The session calls it at most once.
type Opener func(ctx context.Context) (FrameSource, error)

// SliceSource replays a fixed list of frames.
type SliceSource struct {
	frames []image.Image
	pos    int
}

// NewSliceSource creates a source over frames.
func NewSliceSource(frames ...image.Image) *SliceSource {
	return &SliceSource{frames: frames}
}

func (s *SliceSource) Next(ctx context.Context) (image.Image, error) {
	if s.pos >= len(s.frames) {
		return nil, ErrEndOfStream
	}
	frame := s.frames[s.pos]
	s.pos++
	return frame, nil
}

func (s *SliceSource) Close() error { return nil }

// Still wraps a single uploaded image as an Opener.
func Still(img image.Image) Opener {
	return func(context.Context) (FrameSource, error) {
		return NewSliceSource(img), nil
	}
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// IsImageFile reports whether name has an extension of a decodable image.
func IsImageFile(name string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(name)))
}

// DirSource reads image files from a directory in lexical order.
// Files that fail to decode are reported as dropped frames.
type DirSource struct {
	paths []string
	pos   int
}

// OpenDir lists the images in dir.
func OpenDir(dir string) Opener {
	return func(context.Context) (FrameSource, error) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		var paths []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if IsImageFile(entry.Name()) {
				paths = append(paths, filepath.Join(dir, entry.Name()))
			}
		}
		slices.Sort(paths)
		return &DirSource{paths: paths}, nil
	}
}

func (s *DirSource) Next(ctx context.Context) (image.Image, error) {
	if s.pos >= len(s.paths) {
		return nil, ErrEndOfStream
	}
	path := s.paths[s.pos]
	s.pos++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameDropped, err)
	}
	img, err := fingerprint.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFrameDropped, filepath.Base(path), err)
	}
	return img, nil
}

func (s *DirSource) Close() error { return nil }

// SnapshotSource polls an HTTP camera that serves one JPEG per request.
// A failed request drops the frame; more than maxDropped consecutive drops
// fail the source.
type SnapshotSource struct {
	url        string
	client     *http.Client
	maxDropped int
	dropped    int

	mu     sync.Mutex
	closed bool
}

// OpenSnapshot returns an Opener for an HTTP snapshot camera.
func OpenSnapshot(url string, maxDropped int) Opener {
	return func(ctx context.Context) (FrameSource, error) {
		if url == "" {
			return nil, fmt.Errorf("%w: no camera configured", ErrSourceUnavailable)
		}
		if maxDropped <= 0 {
			maxDropped = 10
		}
		return &SnapshotSource{
			url:        url,
			client:     &http.Client{Timeout: 2 * time.Second},
			maxDropped: maxDropped,
		}, nil
	}
}

func (s *SnapshotSource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: source closed", ErrSourceUnavailable)
	}

	img, err := s.fetch(ctx)
	if err == nil {
		s.dropped = 0
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.dropped++
	if s.dropped > s.maxDropped {
		return nil, fmt.Errorf("%w: %d consecutive failed frames: %w", ErrSourceUnavailable, s.dropped, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrFrameDropped, err)
}

func (s *SnapshotSource) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return fingerprint.DecodeImage(data)
}

func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}
