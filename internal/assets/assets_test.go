package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/chai2010/webp"
)

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func checkThumb(t *testing.T, out []byte) {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != ThumbSize || b.Dy() != ThumbSize {
		t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), ThumbSize, ThumbSize)
	}
}

func TestNormalizePNG(t *testing.T) {
	out, err := Normalize(pngBytes(t, testImage(400, 300)))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	checkThumb(t, out)
}

func TestNormalizeWebP(t *testing.T) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, testImage(120, 200), &webp.Options{Lossless: true}); err != nil {
		t.Fatal(err)
	}
	out, err := Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	checkThumb(t, out)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty input: err = %v, want ErrEmpty", err)
	}
	if _, err := Normalize([]byte("definitely not an image")); err == nil {
		t.Error("expected decode error")
	}
}

type stubFetcher struct {
	data  map[string][]byte
	calls int
}

func (s *stubFetcher) Image(_ context.Context, rawURL string) ([]byte, error) {
	s.calls++
	if d, ok := s.data[rawURL]; ok {
		return d, nil
	}
	return nil, errors.New("not found")
}

func TestLoader(t *testing.T) {
	f := &stubFetcher{data: map[string][]byte{
		"https://cdn.example.com/logo.png": pngBytes(t, testImage(64, 64)),
	}}
	l := NewLoader(f)
	ctx := context.Background()

	for range 2 {
		got, err := l.Load(ctx, "https://cdn.example.com/logo.png")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		checkThumb(t, got)
	}
	if f.calls != 1 {
		t.Errorf("fetches = %d, want 1 (cached)", f.calls)
	}

	for _, rawURL := range []string{"", "https://cdn.example.com/logo.png"} {
		got, err := NewLoader(nil).Load(ctx, rawURL)
		if got != nil || err != nil {
			t.Errorf("disabled loader %q = %v, %v, want nil, nil", rawURL, got, err)
		}
	}
	if got, err := l.Load(ctx, ""); got != nil || err != nil {
		t.Errorf("empty URL = %v, %v, want nil, nil", got, err)
	}
}

func TestLoaderFailuresAreNotCached(t *testing.T) {
	f := &stubFetcher{data: map[string][]byte{
		"https://cdn.example.com/bad.png": []byte("broken"),
	}}
	l := NewLoader(f)
	ctx := context.Background()

	for _, rawURL := range []string{"https://cdn.example.com/bad.png", "https://cdn.example.com/missing.png"} {
		for range 2 {
			if got, err := l.Load(ctx, rawURL); err == nil || got != nil {
				t.Errorf("Load(%s) = %v, %v, want error", rawURL, got, err)
			}
		}
	}
	if f.calls != 4 {
		t.Errorf("fetches = %d, want 4 (failures refetched)", f.calls)
	}

	f.data["https://cdn.example.com/missing.png"] = pngBytes(t, testImage(32, 32))
	got, err := l.Load(ctx, "https://cdn.example.com/missing.png")
	if err != nil {
		t.Fatalf("Load after upstream recovered: %v", err)
	}
	checkThumb(t, got)
}
