package dna

import (
	"context"
	"sync"
	"testing"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockTextModel struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
	imageURLs []string
}

func (m *mockTextModel) GenerateText(ctx context.Context, systemPrompt, prompt string, imageURLs []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	m.imageURLs = imageURLs
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	idx := len(m.prompts) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

const sampleModelOutput = "Here is the design DNA you asked for:\n```json\n" + `{
  "dimensions": {"length": "15m", "width": 10, "floors": "2", "floor_height": 3},
  "materials": [
    {"name": " Red Brick ", "hex": "b5523b", "application": "Walls"},
    "slate",
    {"name": "Red brick", "color": "#b5523b", "use": "walls"},
    {"name": "Zinc", "hex": "#abc", "application": "roof"}
  ],
  "rooms": [
    {"name": "Bedroom", "floor": "first floor", "area": 15},
    {"name": "Living Room", "floor": "ground", "area": "30 m2"}
  ],
  "roof": {"type": "Gabled", "pitch": "40°"},
  "entrance": {"facade": "North"},
  "style": {"architecture": "Contemporary", "keywords": ["Brick", "brick", "warm"]}
}` + "\n```\nLet me know if you need changes."

// sampleDNA は sampleModelOutput を解析した正規化済み DNA を返します。
func sampleDNA(t *testing.T) *domain.DesignDNA {
	t.Helper()
	d, err := Parse(sampleModelOutput, nil)
	require.NoError(t, err)
	return d
}
