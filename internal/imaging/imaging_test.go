package imaging

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, b []byte) (int, int) {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestFitScalesLargerAxisToBound(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		inW, inH     int
		wantW, wantH int
	}{
		{name: "wide downscale", inW: 1024, inH: 512, wantW: 512, wantH: 256},
		{name: "tall downscale", inW: 300, inH: 600, wantW: 256, wantH: 512},
		{name: "square at bound untouched", inW: 512, inH: 512, wantW: 512, wantH: 512},
		{name: "small upscale", inW: 100, inH: 50, wantW: 512, wantH: 256},
		{name: "tall at bound untouched", inW: 200, inH: 512, wantW: 200, wantH: 512},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := Fit(image.NewRGBA(image.Rect(0, 0, tt.inW, tt.inH)))
			if w, h := out.Bounds().Dx(), out.Bounds().Dy(); w != tt.wantW || h != tt.wantH {
				t.Fatalf("Fit(%dx%d) = %dx%d, want %dx%d", tt.inW, tt.inH, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestConvertProducesPNG(t *testing.T) {
	t.Parallel()
	out, err := Convert(pngBytes(t, 1024, 512))
	if err != nil {
		t.Fatalf("Convert error: %v", err)
	}
	if w, h := decodeDims(t, out); w != 512 || h != 256 {
		t.Fatalf("output dims = %dx%d, want 512x256", w, h)
	}
	// PNG signature.
	if !bytes.HasPrefix(out, []byte("\x89PNG")) {
		t.Fatal("output is not PNG-encoded")
	}
}

func TestConvertRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := Convert([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTransformFetchesAndConverts(t *testing.T) {
	t.Parallel()
	tall := pngBytes(t, 300, 600)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			_, _ = w.Write(tall)
		case "/broken.png":
			_, _ = w.Write([]byte("junk"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tr := NewTransformer(0)

	out, err := tr.Transform(context.Background(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("Transform error: %v", err)
	}
	if w, h := decodeDims(t, out); w != 256 || h != 512 {
		t.Fatalf("output dims = %dx%d, want 256x512", w, h)
	}

	if _, err := tr.Transform(context.Background(), srv.URL+"/broken.png"); err == nil {
		t.Fatal("expected error for undecodable body")
	}
	if _, err := tr.Transform(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
}
