// Package codes holds the diagnosis-code review domain model and the pure
// engines that operate on it: classification, rank reordering, decision
// transitions, and evidence-region capture.
package codes

import (
	"errors"
	"fmt"
	"time"
)

// Section is the clinical role of a code within a care episode.
type Section string

const (
	SectionPrimary   Section = "primary"
	SectionSecondary Section = "secondary"
)

// Valid reports whether s is a known section.
func (s Section) Valid() bool {
	return s == SectionPrimary || s == SectionSecondary
}

// Provenance records where a code suggestion came from. It never changes
// after the record is created.
type Provenance string

const (
	ProvenanceAIModel Provenance = "AI_MODEL"
	ProvenanceAdded   Provenance = "ADDED"
)

// Decision is the coder's verdict on a suggestion. The empty value means no
// decision has been recorded.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// ErrValidation marks locally-detected input errors that never reach the
// network layer.
var ErrValidation = errors.New("validation error")

// BoundingBox is a normalized rectangle on a page image. All coordinates are
// in [0,1] relative to the page, with the origin at the top-left corner.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate checks that the box lies within the unit square and has positive
// extent.
func (b BoundingBox) Validate() error {
	if b.X < 0 || b.Y < 0 {
		return fmt.Errorf("%w: bounding box origin must be non-negative", ErrValidation)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: bounding box must have positive extent", ErrValidation)
	}
	if b.X+b.Width > 1 || b.Y+b.Height > 1 {
		return fmt.Errorf("%w: bounding box exceeds page bounds", ErrValidation)
	}
	return nil
}

// Area returns the normalized area of the box.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// Polygon converts the box to the backend's 8-number corner format,
// clockwise from the top-left corner.
func (b BoundingBox) Polygon() []float64 {
	return []float64{
		b.X, b.Y,
		b.X + b.Width, b.Y,
		b.X + b.Width, b.Y + b.Height,
		b.X, b.Y + b.Height,
	}
}

// BoxFromPolygon reconstructs a bounding rectangle from an 8-number corner
// polygon. The corners may arrive in any order; the enclosing rectangle of
// the four points is returned.
func BoxFromPolygon(p []float64) (BoundingBox, error) {
	if len(p) != 8 {
		return BoundingBox{}, fmt.Errorf("%w: polygon must have 8 values, got %d", ErrValidation, len(p))
	}
	minX, maxX := p[0], p[0]
	minY, maxY := p[1], p[1]
	for i := 2; i < 8; i += 2 {
		if p[i] < minX {
			minX = p[i]
		}
		if p[i] > maxX {
			maxX = p[i]
		}
		if p[i+1] < minY {
			minY = p[i+1]
		}
		if p[i+1] > maxY {
			maxY = p[i+1]
		}
	}
	box := BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
	if err := box.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return box, nil
}

// EvidenceItem is one document excerpt supporting a code: the sentence, its
// source document and page, and where on the page it sits.
type EvidenceItem struct {
	Sentence     string      `json:"sentence"`
	DocumentName string      `json:"document_name"`
	SectionName  string      `json:"section_name,omitempty"`
	PageNumber   int         `json:"page_number"`
	Box          BoundingBox `json:"bounding_box"`
	AddedBy      string      `json:"added_by,omitempty"`
}

// Comment is a coder note attached to a code. Comments are append-only.
type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// CodeRecord is one diagnosis-code suggestion or decision under review.
// DiagnosisCode is the unique key within a document's code set.
type CodeRecord struct {
	DiagnosisCode   string         `json:"diagnosis_code"`
	Description     string         `json:"description"`
	Provenance      Provenance     `json:"provenance"`
	Section         Section        `json:"section"`
	Decision        Decision       `json:"decision,omitempty"`
	Rank            int            `json:"rank,omitempty"` // 1-based within section; 0 = unranked
	Rationale       string         `json:"rationale,omitempty"`
	Excluded        bool           `json:"excluded,omitempty"`
	ExclusionReason string         `json:"exclusion_reason,omitempty"`
	AddedBy         string         `json:"added_by,omitempty"`
	Evidence        []EvidenceItem `json:"supporting_evidence,omitempty"`
	Comments        []Comment      `json:"comments,omitempty"`
}

// Rejected reports whether the coder has rejected this code.
func (r *CodeRecord) Rejected() bool {
	return r.Decision == DecisionRejected
}

// Pending reports whether this code still needs a decision for progress
// purposes. Only AI-suggested codes count as pending; human-added codes
// never do.
func (r *CodeRecord) Pending() bool {
	return r.Provenance == ProvenanceAIModel && r.Decision == DecisionNone
}

// Clone returns a deep copy of the record.
func (r CodeRecord) Clone() CodeRecord {
	out := r
	if r.Evidence != nil {
		out.Evidence = make([]EvidenceItem, len(r.Evidence))
		copy(out.Evidence, r.Evidence)
	}
	if r.Comments != nil {
		out.Comments = make([]Comment, len(r.Comments))
		copy(out.Comments, r.Comments)
	}
	return out
}

// CloneList returns a deep copy of a record list.
func CloneList(records []CodeRecord) []CodeRecord {
	if records == nil {
		return nil
	}
	out := make([]CodeRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// FindRecord returns a pointer to the record with the given diagnosis code,
// or nil if absent.
func FindRecord(records []CodeRecord, diagnosisCode string) *CodeRecord {
	for i := range records {
		if records[i].DiagnosisCode == diagnosisCode {
			return &records[i]
		}
	}
	return nil
}
