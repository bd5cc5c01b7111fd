package codes

import (
	"errors"
	"fmt"
)

// ErrDragActive reports an attempt to start a drag while one is in flight.
var ErrDragActive = errors.New("a drag is already in progress")

// ErrNoDrag reports a drop or hover with no drag in progress.
var ErrNoDrag = errors.New("no drag in progress")

// DragState identifies the single code currently being dragged and where it
// started.
type DragState struct {
	DiagnosisCode string  `json:"diagnosis_code"`
	FromSection   Section `json:"from_section"`
	FromIndex     int     `json:"from_index"`
}

// DropTarget is the section and insertion index currently hovered over.
type DropTarget struct {
	Section Section `json:"section"`
	Index   int     `json:"index"`
}

// DragController sequences the three-phase drag protocol: Start, zero or
// more Over updates, then Drop or Cancel. At most one drag exists at a
// time, and every outcome leaves the controller idle again.
type DragController struct {
	active *DragState
	over   *DropTarget
}

// Start begins a drag of the given record. Rejected codes refuse the drag.
func (d *DragController) Start(rec CodeRecord, from Section, index int) error {
	if d.active != nil {
		return ErrDragActive
	}
	if rec.Rejected() {
		return ErrRejectedImmutable
	}
	if !from.Valid() {
		return fmt.Errorf("%w: unknown section %q", ErrValidation, from)
	}
	d.active = &DragState{DiagnosisCode: rec.DiagnosisCode, FromSection: from, FromIndex: index}
	return nil
}

// Over records the hovered drop target. It is a no-op when nothing is being
// dragged.
func (d *DragController) Over(section Section, index int) {
	if d.active == nil {
		return
	}
	d.over = &DropTarget{Section: section, Index: index}
}

// Drop completes the drag against the given record list, returning the
// reordered list. The controller resets to idle whether or not the move
// succeeds; a failed move returns the input list unchanged.
func (d *DragController) Drop(records []CodeRecord, section Section, index int) ([]CodeRecord, error) {
	if d.active == nil {
		return records, ErrNoDrag
	}
	mv := Move{
		DiagnosisCode: d.active.DiagnosisCode,
		FromSection:   d.active.FromSection,
		ToSection:     section,
		ToIndex:       index,
	}
	d.reset()
	out, err := Reorder(records, mv)
	if err != nil {
		return records, err
	}
	return out, nil
}

// Cancel abandons the drag without changing any record.
func (d *DragController) Cancel() {
	d.reset()
}

// Active returns a copy of the in-flight drag state, or nil when idle.
func (d *DragController) Active() *DragState {
	if d.active == nil {
		return nil
	}
	s := *d.active
	return &s
}

// Target returns a copy of the last hovered drop target, or nil.
func (d *DragController) Target() *DropTarget {
	if d.over == nil {
		return nil
	}
	t := *d.over
	return &t
}

func (d *DragController) reset() {
	d.active = nil
	d.over = nil
}
