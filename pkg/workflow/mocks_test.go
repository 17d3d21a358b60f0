package workflow

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/dna"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/sheet"
	"github.com/shouni/archsheet-kit/pkg/store"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockDNA struct {
	d      *domain.DesignDNA
	err    error
	briefs []*domain.ProjectBrief
}

func (m *mockDNA) Generate(ctx context.Context, brief *domain.ProjectBrief) (*domain.DesignDNA, error) {
	m.briefs = append(m.briefs, brief)
	if m.err != nil {
		return nil, m.err
	}
	return dna.Clone(m.d), nil
}

type mockImages struct {
	mu       sync.Mutex
	requests []domain.ImageGenerationRequest
	respond  func(req domain.ImageGenerationRequest) ([]byte, error)
}

func (m *mockImages) GenerateView(ctx context.Context, req domain.ImageGenerationRequest) (*domain.ImageResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	data, err := m.respond(req)
	if err != nil {
		return nil, err
	}
	return &domain.ImageResponse{Data: data, MimeType: "image/png", UsedSeed: *req.Seed}, nil
}

func (m *mockImages) calls() []domain.ImageGenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ImageGenerationRequest(nil), m.requests...)
}

func (m *mockImages) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

type mockAssets struct {
	mu         sync.Mutex
	failUpload map[string]bool
	uploaded   []string
	deleted    []string
}

func (m *mockAssets) UploadFile(ctx context.Context, fileURI string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, fileURI)
	if m.failUpload[fileURI] {
		return "", fmt.Errorf("upload failed: %s", fileURI)
	}
	return "https://files.example/" + fileURI, nil
}

func (m *mockAssets) DeleteFile(ctx context.Context, fileURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fileURI)
	return nil
}

type memRepo struct {
	mu       sync.Mutex
	designs  map[string]domain.ProjectBrief
	versions map[string][]domain.SheetResult
}

func newMemRepo() *memRepo {
	return &memRepo{designs: map[string]domain.ProjectBrief{}, versions: map[string][]domain.SheetResult{}}
}

func (r *memRepo) SaveVersion(ctx context.Context, s *domain.SheetResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.designs[s.DesignID]
	switch {
	case s.Version == 1 && exists:
		return store.ErrVersionConflict
	case s.Version == 1:
		r.designs[s.DesignID] = s.Brief
	case !exists:
		return store.ErrNotFound
	}
	if s.Version != len(r.versions[s.DesignID])+1 {
		return store.ErrVersionConflict
	}
	c := *s
	c.Views = append([]domain.ViewResult(nil), s.Views...)
	r.versions[s.DesignID] = append(r.versions[s.DesignID], c)
	return nil
}

func (r *memRepo) LatestVersion(ctx context.Context, id string) (*domain.SheetResult, error) {
	r.mu.Lock()
	n := len(r.versions[id])
	r.mu.Unlock()
	if n == 0 {
		return nil, fmt.Errorf("design %s: %w", id, store.ErrNotFound)
	}
	return r.GetVersion(ctx, id, n)
}

func (r *memRepo) GetVersion(ctx context.Context, id string, version int) (*domain.SheetResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs := r.versions[id]
	if version < 1 || version > len(vs) {
		return nil, fmt.Errorf("design %s version %d: %w", id, version, store.ErrNotFound)
	}
	c := vs[version-1]
	c.Views = append([]domain.ViewResult(nil), c.Views...)
	return &c, nil
}

func (r *memRepo) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.versions[id])
}

type memArtifacts struct {
	mu   sync.Mutex
	data map[string][]byte
	// failSuffix に一致するキーの Put は失敗します。
	failSuffix string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{data: map[string][]byte{}}
}

func (m *memArtifacts) URI(key string) string { return "mem://" + key }

func (m *memArtifacts) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	uri := m.URI(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSuffix != "" && strings.HasSuffix(key, m.failSuffix) {
		return "", fmt.Errorf("put %s: storage unavailable", uri)
	}
	m.data[uri] = data
	return uri, nil
}

func (m *memArtifacts) Get(ctx context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[uri]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", uri, fs.ErrNotExist)
	}
	return b, nil
}

func (m *memArtifacts) Writer() remoteio.OutputWriter { return m }

func (m *memArtifacts) Write(ctx context.Context, uri string, r io.Reader, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[uri] = b
	return nil
}

func (m *memArtifacts) has(uri string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[uri]
	return ok
}

func (m *memArtifacts) remove(uri string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, uri)
}

// --- Fixtures ---

func testDNA() *domain.DesignDNA {
	d := &domain.DesignDNA{
		Dimensions: domain.Dimensions{Length: 15, Width: 10, Floors: 2},
		Materials: []domain.Material{
			{Name: "red brick", Hex: "#B5523B", Application: "walls"},
			{Name: "zinc", Hex: "#AABBCC", Application: "roof"},
		},
		Rooms: []domain.Room{
			{Name: "living room", Floor: 0, Area: 30},
			{Name: "bedroom", Floor: 1, Area: 15},
		},
		Roof:  domain.Roof{Type: "gable", Pitch: 40},
		Style: domain.Style{Architecture: "contemporary"},
	}
	dna.Normalize(d, nil)
	return d
}

// split は半分を黒く塗った画像です。vertical が true なら左半分、false なら上半分を塗ります。
func split(t *testing.T, vertical bool) []byte {
	t.Helper()
	const size = 64
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			black := (vertical && x < size/2) || (!vertical && y < size/2)
			if black {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func hasReference(req domain.ImageGenerationRequest) bool {
	for _, u := range req.ReferenceURLs {
		if strings.HasPrefix(u, "mem://") {
			return true
		}
	}
	return false
}

type fixture struct {
	p      *Pipeline
	dna    *mockDNA
	images *mockImages
	repo   *memRepo
	art    *memArtifacts
}

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	baseline := split(t, true)

	f := &fixture{
		dna:    &mockDNA{d: testDNA()},
		images: &mockImages{respond: func(domain.ImageGenerationRequest) ([]byte, error) { return baseline, nil }},
		repo:   newMemRepo(),
		art:    newMemArtifacts(),
	}
	scorer, err := consistency.NewScorer(consistency.ScorerConfig{SSIMSize: 64})
	require.NoError(t, err)

	p, err := NewPipeline(Dependencies{
		DNA:       f.dna,
		Images:    f.images,
		Scorer:    scorer,
		Composer:  sheet.NewComposer(sheet.Config{DPI: 30}),
		Repo:      f.repo,
		Artifacts: f.art,
	}, Config{
		MaxRetries:       2,
		GenerateRetries:  1,
		RetryInterval:    time.Millisecond,
		CheckConcurrency: 2,
	})
	require.NoError(t, err)
	p.newID = func() string { return "design-1" }
	p.now = func() time.Time { return fixedNow }
	f.p = p
	return f
}

func (f *fixture) generate(t *testing.T) *domain.SheetResult {
	t.Helper()
	brief := &domain.ProjectBrief{
		ProjectName:   "Riverside House",
		PortfolioURLs: []string{"gs://portfolio/a.jpg"},
		Seed:          domain.SeedPtr(12345),
	}
	res, err := f.p.Generate(context.Background(), brief)
	require.NoError(t, err)
	f.images.reset()
	return res
}
