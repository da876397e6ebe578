// Package imaging converts fetched source images into sticker-ready PNGs:
// decoded, scaled so the larger axis is exactly 512, re-encoded.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	_ "image/jpeg" // register JPEG decoder

	"github.com/nfnt/resize"
)

// StickerBound is the Telegram sticker dimension cap.
const StickerBound = 512

type Transformer struct {
	http *http.Client
}

func NewTransformer(timeout time.Duration) *Transformer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Transformer{http: &http.Client{Timeout: timeout}}
}

// Transform fetches the image at url and returns it as a 512-bounded PNG.
// All failures are per-item: the caller decides the poison policy.
func (t *Transformer) Transform(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("image fetch: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("image fetch: %w", err)
	}
	return Convert(raw)
}

// Convert decodes raw image bytes, fits them to the sticker bound, and
// re-encodes as PNG.
func Convert(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("image decode: %w", err)
	}
	return encodePNG(Fit(img))
}

// Fit scales img so its larger dimension is exactly StickerBound,
// preserving aspect ratio. Images already at the bound pass through.
func Fit(img image.Image) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	if h > w {
		if h == StickerBound {
			return img
		}
		return resize.Resize(0, StickerBound, img, resize.Lanczos3)
	}
	if w == StickerBound {
		return img
	}
	return resize.Resize(StickerBound, 0, img, resize.Lanczos3)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}
