package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestDistance_UnitVectorsMatchCosine(t *testing.T) {
	a := Normalize([]float32{1, 2, 3})
	b := Normalize([]float32{3, 1, 2})

	var cos float64
	for i := range a {
		cos += float64(a[i]) * float64(b[i])
	}
	assert.InDelta(t, math.Sqrt(2-2*cos), Distance(a, b), 1e-6)
	assert.True(t, math.IsInf(Distance(a, []float32{1}), 1))
}

func TestRankByDistance(t *testing.T) {
	query := []float32{1, 0}
	atoms := []Atom{
		{ID: "far", VectorContent: []float32{-1, 0}},
		{ID: "near", VectorContent: []float32{1, 0}},
		{ID: "mid", VectorContent: []float32{0, 1}},
		{ID: "wrong-dims", VectorContent: []float32{1, 0, 0}},
	}

	got := RankByDistance(atoms, TargetContent, query, 10)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, []string{got[0].ID, got[1].ID, got[2].ID})
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, *got[i-1].Distance, *got[i].Distance)
	}

	assert.Len(t, RankByDistance(atoms, TargetContent, query, 1), 1)
	assert.Empty(t, RankByDistance(atoms, TargetContent, query, 0))
	assert.Empty(t, RankByDistance(atoms, TargetContent, query, -3))
}

func TestRankByDistance_TiesKeepInputOrder(t *testing.T) {
	atoms := []Atom{
		{ID: "first", VectorSummary: []float32{0, 1}},
		{ID: "second", VectorSummary: []float32{0, 1}},
	}
	got := RankByDistance(atoms, TargetSummary, []float32{1, 0}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, "second", got[1].ID)
}

func TestParseTarget(t *testing.T) {
	tg, ok := ParseTarget("")
	assert.True(t, ok)
	assert.Equal(t, TargetContent, tg)

	tg, ok = ParseTarget("summary")
	assert.True(t, ok)
	assert.Equal(t, TargetSummary, tg)

	_, ok = ParseTarget("entities")
	assert.False(t, ok)
}

func TestScanFilterMatch(t *testing.T) {
	f := ScanFilter{StartDate: "2024-01-01", EndDate: "2024-01-31T23:59:59"}
	assert.True(t, f.Match("2024-01-01"))
	assert.True(t, f.Match("2024-01-15T10:00:00"))
	assert.False(t, f.Match("2023-12-31T23:59:59"))
	assert.False(t, f.Match("2024-02-01"))
	assert.False(t, f.Match(""))
	assert.True(t, ScanFilter{}.Match(""))
}

func TestAtomClone(t *testing.T) {
	d := 0.5
	a := &Atom{ID: "a", Speakers: []string{"x"}, VectorContent: []float32{1}, Distance: &d}
	c := a.Clone()
	c.Speakers[0] = "y"
	c.VectorContent[0] = 2
	*c.Distance = 1

	assert.Equal(t, "x", a.Speakers[0])
	assert.Equal(t, float32(1), a.VectorContent[0])
	assert.Equal(t, 0.5, *a.Distance)
}
