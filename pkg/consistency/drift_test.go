package consistency

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestChecker(t *testing.T) (*DriftChecker, *mockLoader) {
	t.Helper()
	scorer, err := NewScorer(ScorerConfig{SSIMSize: 64})
	require.NoError(t, err)
	loader := &mockLoader{data: map[string][]byte{
		"base/plan.png":    encode(t, drawing(128, 16)),
		"cand/plan.png":    encode(t, drawing(128, 16)),
		"base/north.png":   encode(t, drawing(128, 8)),
		"cand/north.png":   encode(t, blank(128)),
		"base/section.png": encode(t, drawing(128, 16)),
		"cand/section.png": []byte("not an image"),
	}}
	checker, err := NewDriftChecker(scorer, loader, 2)
	require.NoError(t, err)
	return checker, loader
}

func TestNewDriftChecker(t *testing.T) {
	_, err := NewDriftChecker(nil, &mockLoader{}, 1)
	assert.Error(t, err)

	s, _ := NewScorer(ScorerConfig{})
	_, err = NewDriftChecker(s, nil, 1)
	assert.Error(t, err)

	c, err := NewDriftChecker(s, &mockLoader{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, c.concurrency)
}

func TestDriftChecker_Check(t *testing.T) {
	defer goleak.VerifyNone(t)

	checker, _ := newTestChecker(t)
	pairs := []Pair{
		{View: domain.ViewGroundFloorPlan, Baseline: "base/plan.png", Candidate: "cand/plan.png"},
		{View: domain.ViewElevationNorth, Baseline: "base/north.png", Candidate: "cand/north.png"},
		{View: domain.ViewSectionAA, Baseline: "base/section.png", Candidate: "cand/section.png"},
		{View: domain.ViewSitePlan, Baseline: "base/site.png", Candidate: ""},
		{View: domain.ViewExterior3D, Baseline: "base/missing.png", Candidate: "cand/missing.png"},
	}

	report, err := checker.Check(context.Background(), pairs)
	require.NoError(t, err)

	require.Len(t, report.Views, len(pairs))
	statuses := make(map[domain.View]Status)
	for i, v := range report.Views {
		assert.Equal(t, pairs[i].View, v.View, "results keep input order")
		statuses[v.View] = v.Status
	}
	assert.Equal(t, StatusPassed, statuses[domain.ViewGroundFloorPlan])
	assert.Equal(t, StatusFailed, statuses[domain.ViewElevationNorth])
	assert.Equal(t, StatusFailed, statuses[domain.ViewSectionAA])
	assert.Equal(t, StatusSkipped, statuses[domain.ViewSitePlan])
	assert.Equal(t, StatusSkipped, statuses[domain.ViewExterior3D])

	sum := report.Summary
	assert.Equal(t, 5, sum.Total)
	assert.Equal(t, 3, sum.Checked, "採点できなかったビューも検査済み")
	assert.Equal(t, 1, sum.Passed)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, []domain.View{domain.ViewElevationNorth, domain.ViewSectionAA}, sum.FailedViews)
	assert.Equal(t, 1.0, sum.MaxCombined)
	assert.Less(t, sum.MinCombined, DefaultThreshold)
	assert.False(t, report.OK())
	assert.Equal(t, DefaultThreshold, report.Threshold)
	assert.Contains(t, report.Views[2].Error, "candidate")
}

func TestDriftChecker_Check_Undecodable(t *testing.T) {
	checker, _ := newTestChecker(t)

	report, err := checker.Check(context.Background(), []Pair{
		{View: domain.ViewSectionAA, Baseline: "base/section.png", Candidate: "cand/section.png"},
	})
	require.NoError(t, err)

	sum := report.Summary
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 0, sum.Passed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, sum.Checked, sum.Passed+sum.Failed)
	assert.Zero(t, sum.AvgCombined)
	assert.Zero(t, sum.MinCombined)
	assert.False(t, report.OK())
}

func TestDriftChecker_Check_Empty(t *testing.T) {
	checker, _ := newTestChecker(t)

	report, err := checker.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.Summary.Total)
	assert.Zero(t, report.Summary.MinCombined)
	assert.True(t, report.OK())
}

func TestDriftChecker_Check_Canceled(t *testing.T) {
	defer goleak.VerifyNone(t)

	checker, _ := newTestChecker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := checker.Check(ctx, []Pair{{View: domain.ViewGroundFloorPlan, Baseline: "base/plan.png", Candidate: "cand/plan.png"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReport_Save(t *testing.T) {
	w := &mockWriter{}
	r := &Report{DesignID: "d-1", Threshold: 0.8, Views: []ViewReport{{View: domain.ViewSectionBB, Status: StatusSkipped}}}

	require.NoError(t, r.Save(context.Background(), w, "reports/d-1.json"))

	assert.Equal(t, "application/json", w.contentType)
	var decoded Report
	require.NoError(t, json.Unmarshal(w.written["reports/d-1.json"], &decoded))
	assert.Equal(t, "d-1", decoded.DesignID)
	assert.Equal(t, StatusSkipped, decoded.Views[0].Status)
}
