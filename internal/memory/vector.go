package memory

import (
	"math"
	"sort"
)

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Distance is the Euclidean distance between a and b. Vectors of different
// length are infinitely far apart.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// RankByDistance computes each candidate's distance to query on target,
// sorts ascending (stable, so ties keep input order) and keeps k.
func RankByDistance(candidates []Atom, target Target, query []float32, k int) []Atom {
	if k <= 0 || len(candidates) == 0 {
		return []Atom{}
	}
	type scored struct {
		atom Atom
		dist float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		vec := c.Vector(target)
		if len(vec) != len(query) {
			continue
		}
		ranked = append(ranked, scored{atom: c, dist: Distance(query, vec)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Atom, k)
	for i := 0; i < k; i++ {
		d := ranked[i].dist
		out[i] = ranked[i].atom
		out[i].Distance = &d
	}
	return out
}
