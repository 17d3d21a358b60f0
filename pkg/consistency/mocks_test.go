package consistency

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"sync"
	"testing"
)

// --- Mocks ---

type mockLoader struct {
	data map[string][]byte
}

func (m *mockLoader) Get(ctx context.Context, uri string) ([]byte, error) {
	if b, ok := m.data[uri]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("open %s: %w", uri, fs.ErrNotExist)
}

type mockWriter struct {
	mu          sync.Mutex
	written     map[string][]byte
	contentType string
}

func (m *mockWriter) Write(ctx context.Context, uri string, r io.Reader, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.written == nil {
		m.written = make(map[string][]byte)
	}
	m.written[uri] = b
	m.contentType = contentType
	return nil
}

// --- Test images ---

func blank(size int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, size, size))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	return g
}

// drawing は白地に縦横の黒線が入った図面風の画像です。
func drawing(size, pitch int) *image.Gray {
	g := blank(size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if x%pitch < 2 || y%pitch < 2 {
				g.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return g
}

// vline は白地に x=col の縦線1本の画像です。
func vline(size, col int) *image.Gray {
	g := blank(size)
	for y := 0; y < size; y++ {
		g.SetGray(col, y, color.Gray{Y: 0})
	}
	return g
}

func encode(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
