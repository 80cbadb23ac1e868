// Package assets prepares school logos and student photos for embedding in
// report documents.
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// ThumbSize is the edge, in pixels, of the square images placed on reports.
const ThumbSize = 240

// ErrEmpty is returned for a zero-length image.
var ErrEmpty = errors.New("empty image")

// Fetcher loads the raw bytes of a remote image.
type Fetcher interface {
	Image(ctx context.Context, rawURL string) ([]byte, error)
}

// Normalize decodes a JPEG, PNG, GIF or WebP image, crops it to a centred
// square of ThumbSize pixels and re-encodes it as PNG.
func Normalize(data []byte) ([]byte, error) {
	img, err := decode(data)
	if err != nil {
		return nil, err
	}
	thumb := imaging.Fill(img, ThumbSize, ThumbSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if http.DetectContentType(head) == "image/webp" {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Loader fetches and normalizes images, remembering successful loads per
// URL. Failures are not remembered, so the next report retries the fetch.
type Loader struct {
	fetcher Fetcher

	mu    sync.Mutex
	cache map[string][]byte
}

// NewLoader returns a Loader backed by f. A nil f disables images.
func NewLoader(f Fetcher) *Loader {
	return &Loader{fetcher: f, cache: make(map[string][]byte)}
}

// Load returns the PNG thumbnail for rawURL. It returns nil without error
// when there is no URL or images are disabled, and an error when the image
// cannot be fetched or decoded.
func (l *Loader) Load(ctx context.Context, rawURL string) ([]byte, error) {
	if l == nil || l.fetcher == nil || rawURL == "" {
		return nil, nil
	}
	l.mu.Lock()
	png, ok := l.cache[rawURL]
	l.mu.Unlock()
	if ok {
		return png, nil
	}

	data, err := l.fetcher.Image(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", rawURL, err)
	}
	png, err = Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", rawURL, err)
	}

	l.mu.Lock()
	l.cache[rawURL] = png
	l.mu.Unlock()
	return png, nil
}
