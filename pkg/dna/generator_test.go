package dna

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBrief() *domain.ProjectBrief {
	seed := int64(77)
	return &domain.ProjectBrief{
		ProjectName:   "Riverside House",
		Address:       "1 River Lane",
		BuildingType:  "detached house",
		FloorArea:     180,
		Floors:        2,
		Program:       []domain.ProgramSpace{{Name: "Living", Area: 35}, {Name: "Bedroom", Area: 14, Floor: 1, Count: 3}},
		StyleKeywords: []string{"brick", "warm"},
		PortfolioURLs: []string{"https://example.com/portfolio.png"},
		Seed:          &seed,
	}
}

func TestNewGenerator(t *testing.T) {
	_, err := NewGenerator(nil, 1, time.Millisecond)
	assert.Error(t, err)
}

func TestGenerator_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("成功: 1回目で解析できる", func(t *testing.T) {
		model := &mockTextModel{responses: []string{sampleModelOutput}}
		gen, err := NewGenerator(model, 2, time.Millisecond)
		require.NoError(t, err)

		d, err := gen.Generate(ctx, testBrief())
		require.NoError(t, err)

		assert.Len(t, model.prompts, 1)
		assert.Equal(t, []string{"https://example.com/portfolio.png"}, model.imageURLs)
		assert.Equal(t, int64(77), d.Seed)
		assert.Equal(t, 2, d.Dimensions.Floors)
	})

	t.Run("解析エラーをフィードバックして再試行する", func(t *testing.T) {
		model := &mockTextModel{responses: []string{"Sorry, here is a sketch instead.", sampleModelOutput}}
		gen, _ := NewGenerator(model, 2, time.Millisecond)

		_, err := gen.Generate(ctx, testBrief())
		require.NoError(t, err)

		require.Len(t, model.prompts, 2)
		assert.Contains(t, model.prompts[1], "Your previous answer was rejected")
		assert.Contains(t, model.prompts[1], ErrNoJSONObject.Error())
	})

	t.Run("再試行回数を超えたら失敗する", func(t *testing.T) {
		model := &mockTextModel{responses: []string{`{"dimensions": {"floors": 12}, "materials": ["brick"]}`}}
		gen, _ := NewGenerator(model, 2, time.Millisecond)

		_, err := gen.Generate(ctx, testBrief())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
		assert.Len(t, model.prompts, 3)
	})

	t.Run("デコードできない JSON も再試行する", func(t *testing.T) {
		model := &mockTextModel{responses: []string{`{"dimensions": [15, 10]}`, sampleModelOutput}}
		gen, _ := NewGenerator(model, 2, time.Millisecond)

		_, err := gen.Generate(ctx, testBrief())
		require.NoError(t, err)

		require.Len(t, model.prompts, 2)
		assert.Contains(t, model.prompts[1], ErrDecode.Error())
	})

	t.Run("再試行0回なら1回だけ呼び出す", func(t *testing.T) {
		model := &mockTextModel{responses: []string{"no json here", sampleModelOutput}}
		gen, _ := NewGenerator(model, 0, 0)

		_, err := gen.Generate(ctx, testBrief())
		assert.ErrorIs(t, err, ErrNoJSONObject)
		assert.Len(t, model.prompts, 1)
	})

	smallBedroom := `{"dimensions": {"length": 12, "width": 8, "floors": 2}, "materials": ["brick"],
		"rooms": [{"name": "Master Bedroom", "floor": 1, "area": 8}]}`

	t.Run("建築規則の不適合は既定では警告にとどめる", func(t *testing.T) {
		model := &mockTextModel{responses: []string{smallBedroom, sampleModelOutput}}
		gen, _ := NewGenerator(model, 2, time.Millisecond)

		d, err := gen.Generate(ctx, testBrief())
		require.NoError(t, err)
		assert.Len(t, model.prompts, 1)
		assert.Equal(t, "master bedroom", d.Rooms[0].Name)
	})

	t.Run("厳格モードでは建築規則の不適合を再試行する", func(t *testing.T) {
		model := &mockTextModel{responses: []string{smallBedroom, sampleModelOutput}}
		gen, _ := NewGenerator(model, 2, time.Millisecond, WithStrictRegulations())

		d, err := gen.Generate(ctx, testBrief())
		require.NoError(t, err)
		require.Len(t, model.prompts, 2)
		assert.Contains(t, model.prompts[1], "building regulations")
		assert.Empty(t, CheckRegulations(d))
	})

	t.Run("API エラーは再試行しない", func(t *testing.T) {
		apiErr := errors.New("quota exceeded")
		model := &mockTextModel{err: apiErr}
		gen, _ := NewGenerator(model, 2, time.Millisecond)

		_, err := gen.Generate(ctx, testBrief())
		assert.ErrorIs(t, err, apiErr)
		assert.Len(t, model.prompts, 1)
	})
}

func TestBriefPrompt(t *testing.T) {
	p := BriefPrompt(testBrief())
	assert.Contains(t, p, "Project: Riverside House")
	assert.Contains(t, p, "Target gross floor area: 180 m2")
	assert.Contains(t, p, "- Living x1, 35 m2, floor 0")
	assert.Contains(t, p, "- Bedroom x3, 14 m2, floor 1")
	assert.Contains(t, p, "Style: brick, warm")
	assert.Contains(t, p, "portfolio")
}
