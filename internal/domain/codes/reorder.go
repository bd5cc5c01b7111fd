package codes

import (
	"errors"
	"fmt"
)

var (
	// ErrCodeNotFound reports a diagnosis code absent from the working list.
	ErrCodeNotFound = errors.New("diagnosis code not found")
	// ErrRejectedImmutable reports an attempt to move a rejected code.
	// Rejected codes keep a fixed position until the rejection is undone.
	ErrRejectedImmutable = errors.New("rejected codes cannot be reordered")
)

// Move describes one drag-and-drop relocation of a code.
type Move struct {
	DiagnosisCode string  `json:"diagnosis_code"`
	FromSection   Section `json:"from_section"`
	ToSection     Section `json:"to_section"`
	// ToIndex is the insertion position among the target section's
	// unrejected codes, in display order. Out-of-range values are clamped.
	ToIndex int `json:"to_index"`
}

// Reorder applies a drag-and-drop move to a flat record list and returns a
// new list with ranks and sections rewritten. The input is not mutated.
//
// The dragged code is removed from its place, switched to the target
// section when the move crosses sections, and inserted at ToIndex among the
// target section's unrejected codes. Both affected sections are then
// renumbered 1..N across their unrejected members; rejected codes keep
// whatever rank they had and are skipped by renumbering.
func Reorder(records []CodeRecord, mv Move) ([]CodeRecord, error) {
	if !mv.ToSection.Valid() {
		return nil, fmt.Errorf("%w: unknown section %q", ErrValidation, mv.ToSection)
	}
	dragged := FindRecord(records, mv.DiagnosisCode)
	if dragged == nil {
		return nil, fmt.Errorf("%w: %s", ErrCodeNotFound, mv.DiagnosisCode)
	}
	if dragged.Rejected() {
		return nil, ErrRejectedImmutable
	}

	out := CloneList(records)
	fromSection := dragged.Section
	moved := FindRecord(out, mv.DiagnosisCode)
	moved.Section = mv.ToSection

	// Ordered unrejected members of the target section, dragged excluded.
	target := sectionMembers(out, mv.ToSection, mv.DiagnosisCode)
	idx := mv.ToIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(target) {
		idx = len(target)
	}
	target = append(target[:idx:idx], append([]*CodeRecord{moved}, target[idx:]...)...)
	renumber(target)

	if fromSection != mv.ToSection {
		renumber(sectionMembers(out, fromSection, mv.DiagnosisCode))
	}
	return out, nil
}

// Renumber rewrites ranks 1..N across the unrejected members of both
// sections in display order, in place. Unranked codes (rank 0) sort last
// and pick up real ranks; rejected codes keep whatever rank they had.
func Renumber(records []CodeRecord) {
	renumber(sectionMembers(records, SectionPrimary, ""))
	renumber(sectionMembers(records, SectionSecondary, ""))
}

// sectionMembers returns pointers to the unrejected records of a section in
// display order, skipping the named code.
func sectionMembers(records []CodeRecord, section Section, skipCode string) []*CodeRecord {
	group := make([]CodeRecord, 0, len(records))
	for _, r := range records {
		if r.Section == section && !r.Rejected() && r.DiagnosisCode != skipCode {
			group = append(group, r)
		}
	}
	sortDisplay(group)
	members := make([]*CodeRecord, len(group))
	for i, g := range group {
		members[i] = FindRecord(records, g.DiagnosisCode)
	}
	return members
}

func renumber(members []*CodeRecord) {
	for i, m := range members {
		m.Rank = i + 1
	}
}
