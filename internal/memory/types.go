package memory

// Atom is one stored memory record. VectorSummary is derived from Summary
// and VectorContent from Content; both are L2-normalised.
type Atom struct {
	ID            string         `json:"id"`
	Summary       string         `json:"summary"`
	Content       string         `json:"content"`
	Timestamp     string         `json:"timestamp,omitempty"`
	Speakers      []string       `json:"speakers"`
	SourceName    string         `json:"source_name,omitempty"`
	Relationships []Relationship `json:"relationships"`
	Entities      []Entity       `json:"entities"`

	VectorSummary []float32 `json:"-"`
	VectorContent []float32 `json:"-"`

	// Distance is set on direct search hits only.
	Distance *float64 `json:"_distance,omitempty"`
}

// Relationship is a directed, typed, weighted edge to another atom.
// The target may not exist.
type Relationship struct {
	TargetID string  `json:"target_id"`
	Type     string  `json:"type"`
	Weight   float64 `json:"weight"`
}

// Entity is a named thing mentioned by an atom.
type Entity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Clone returns a deep copy of the atom.
func (a *Atom) Clone() *Atom {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Speakers = append([]string(nil), a.Speakers...)
	cp.Relationships = append([]Relationship(nil), a.Relationships...)
	cp.Entities = append([]Entity(nil), a.Entities...)
	cp.VectorSummary = append([]float32(nil), a.VectorSummary...)
	cp.VectorContent = append([]float32(nil), a.VectorContent...)
	if a.Distance != nil {
		d := *a.Distance
		cp.Distance = &d
	}
	return &cp
}

// Normalize fills nil slices so that records serialise with [] rather than null.
func (a *Atom) Normalize() {
	if a.Speakers == nil {
		a.Speakers = []string{}
	}
	if a.Relationships == nil {
		a.Relationships = []Relationship{}
	}
	if a.Entities == nil {
		a.Entities = []Entity{}
	}
}

// Target selects which embedding a query is compared against.
type Target string

const (
	TargetSummary Target = "summary"
	TargetContent Target = "content"
)

// ParseTarget validates a client supplied target. Empty selects content.
func ParseTarget(s string) (Target, bool) {
	switch Target(s) {
	case "":
		return TargetContent, true
	case TargetSummary, TargetContent:
		return Target(s), true
	default:
		return "", false
	}
}

// Vector returns the atom's embedding for target.
func (a *Atom) Vector(t Target) []float32 {
	if t == TargetSummary {
		return a.VectorSummary
	}
	return a.VectorContent
}

// ScanFilter restricts Scan by inclusive timestamp bounds and paginates.
// Empty bounds are open.
type ScanFilter struct {
	StartDate string
	EndDate   string
	Limit     int
	Offset    int
}

// Match reports whether a timestamp falls within the filter's bounds.
// Comparison is lexical, which is chronological for ISO-8601 strings.
func (f ScanFilter) Match(ts string) bool {
	if f.StartDate == "" && f.EndDate == "" {
		return true
	}
	if ts == "" {
		return false
	}
	if f.StartDate != "" && ts < f.StartDate {
		return false
	}
	if f.EndDate != "" && ts > f.EndDate {
		return false
	}
	return true
}

// ScanResult is one page of records plus the unpaginated total.
type ScanResult struct {
	Records []Atom
	Total   int
}
