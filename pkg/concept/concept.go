package concept

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

/*
Concept is a node in the mesh. Its ID is a content fingerprint of the
normalized label, which makes identity immutable and globally unique:
two proposals with the same normalized text always resolve to the same
node. Stability is owned exclusively by the spectral monitor; every
other field is owned by the mutation gateway.
*/
type Concept struct {
	ID         string       `json:"id"`
	Label      string       `json:"label"`
	Phase      float64      `json:"phase"`
	Energy     float64      `json:"energy"`
	Stability  float64      `json:"stability"`
	Provenance []Provenance `json:"provenance"`
	Archived   bool         `json:"archived,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

/*
Provenance records one source that contributed to a concept. The list on
a Concept is append-only and ordered by acceptance.
*/
type Provenance struct {
	Source    string    `json:"source"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

/*
Edge is a directed, typed relation between two concepts. Weight grows
additively on repeated co-occurrence.
*/
type Edge struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
}

/*
Proposal is the transient input consumed by the mutation gateway. It is
never stored as-is.
*/
type Proposal struct {
	ConceptText string `json:"concept_text"`
	Context     string `json:"context,omitempty"`
	Source      string `json:"provenance_source"`
}

// MaxConceptText bounds proposal text so a runaway extractor cannot stuff
// documents into node labels.
const MaxConceptText = 4096

// Normalize collapses whitespace and case so fingerprints are insensitive
// to the formatting quirks of upstream extractors.
func Normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// Fingerprint returns the content-addressed ID for a label: the hex SHA-256
// of its normalized form.
func Fingerprint(label string) string {
	sum := sha256.Sum256([]byte(Normalize(label)))
	return hex.EncodeToString(sum[:])
}

// PhaseOf derives a deterministic phase angle in [0, 2π) from a fingerprint.
// The first eight bytes of the digest are treated as a fixed-point fraction
// of the full circle, so equal fingerprints always land on the same angle.
func PhaseOf(fingerprint string) float64 {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) < 8 {
		sum := sha256.Sum256([]byte(fingerprint))
		raw = sum[:]
	}
	frac := float64(binary.BigEndian.Uint64(raw[:8])) / float64(math.MaxUint64)
	return frac * 2 * math.Pi
}

// PhaseDistance returns the angular distance between two phases, wrapped to
// [0, π].
func PhaseDistance(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 2*math.Pi)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// PhaseMean returns the weighted circular mean of two phases. Used when a
// merge pulls a concept's semantic position toward the context it was just
// used in: the heavier wa is, the less a single usage moves the node.
func PhaseMean(a float64, wa float64, b float64, wb float64) float64 {
	s := wa*math.Sin(a) + wb*math.Sin(b)
	c := wa*math.Cos(a) + wb*math.Cos(b)
	if s == 0 && c == 0 {
		return a
	}
	m := math.Atan2(s, c)
	if m < 0 {
		m += 2 * math.Pi
	}
	return m
}

// New builds a fresh concept from a proposal. Energy starts at 1 and
// stability starts optimistic; the spectral monitor revises it once a
// usage window accumulates.
func New(p Proposal, now time.Time) *Concept {
	id := Fingerprint(p.ConceptText)
	return &Concept{
		ID:        id,
		Label:     Normalize(p.ConceptText),
		Phase:     PhaseOf(id),
		Energy:    1,
		Stability: 1,
		Provenance: []Provenance{{
			Source:    p.Source,
			Context:   p.Context,
			Timestamp: now,
		}},
		CreatedAt: now,
	}
}

// Clone returns a deep copy. Snapshots hand these out so readers can never
// alias live store state.
func (c *Concept) Clone() *Concept {
	cp := *c
	cp.Provenance = append([]Provenance(nil), c.Provenance...)
	return &cp
}
