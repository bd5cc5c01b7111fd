package codes

import (
	"errors"
	"math"
)

// Minimum normalized extent for a drawn evidence region. Anything smaller
// is treated as an accidental click and discarded.
const (
	MinBoxWidth  = 0.01
	MinBoxHeight = 0.01
)

// DrawPhase is the lifecycle stage of an evidence-region capture.
type DrawPhase string

const (
	PhaseIdle     DrawPhase = "idle"
	PhaseDrawing  DrawPhase = "drawing"
	PhaseBoxDrawn DrawPhase = "box_drawn"
	PhaseFormOpen DrawPhase = "form_open"
)

var (
	// ErrNotArmed reports pointer input while draw mode is off.
	ErrNotArmed = errors.New("draw mode is not armed")
	// ErrDrawPhase reports a transition invalid for the current phase.
	ErrDrawPhase = errors.New("invalid draw phase for operation")
	// ErrBoxTooSmall reports a drawn region below the minimum size.
	ErrBoxTooSmall = errors.New("drawn region is too small")
)

// Region is a captured evidence rectangle anchored to a document page.
type Region struct {
	DocumentName string      `json:"document_name"`
	PageNumber   int         `json:"page_number"`
	Box          BoundingBox `json:"box"`
}

// BoxTracker walks a single evidence capture through its phases: arm draw
// mode, track a pointer-drawn rectangle, hold the result while the code
// form is open, then clear on submit or cancel. One tracker serves one
// review view; at most one region is in flight at a time.
type BoxTracker struct {
	phase    DrawPhase
	armed    bool
	document string
	page     int
	anchorX  float64
	anchorY  float64
	box      BoundingBox
}

// NewBoxTracker returns an idle, disarmed tracker.
func NewBoxTracker() *BoxTracker {
	return &BoxTracker{phase: PhaseIdle}
}

// Phase returns the current lifecycle stage.
func (t *BoxTracker) Phase() DrawPhase { return t.phase }

// Armed reports whether pointer-down will begin a capture.
func (t *BoxTracker) Armed() bool { return t.armed }

// Arm enables draw mode. Only valid while idle.
func (t *BoxTracker) Arm() error {
	if t.phase != PhaseIdle {
		return ErrDrawPhase
	}
	t.armed = true
	return nil
}

// Disarm turns draw mode off without touching an in-progress capture.
func (t *BoxTracker) Disarm() {
	t.armed = false
}

// PointerDown anchors a new rectangle at a normalized page coordinate.
func (t *BoxTracker) PointerDown(document string, page int, x, y float64) error {
	if !t.armed {
		return ErrNotArmed
	}
	if t.phase != PhaseIdle {
		return ErrDrawPhase
	}
	t.phase = PhaseDrawing
	t.document = document
	t.page = page
	t.anchorX = clamp01(x)
	t.anchorY = clamp01(y)
	t.box = BoundingBox{X: t.anchorX, Y: t.anchorY}
	return nil
}

// PointerMove extends the rectangle to the current pointer position. The
// box is always the enclosing rectangle of the anchor and the pointer, so
// dragging up or left of the anchor works the same as down-right.
func (t *BoxTracker) PointerMove(x, y float64) error {
	if t.phase != PhaseDrawing {
		return ErrDrawPhase
	}
	x, y = clamp01(x), clamp01(y)
	t.box = BoundingBox{
		X:      math.Min(t.anchorX, x),
		Y:      math.Min(t.anchorY, y),
		Width:  math.Abs(x - t.anchorX),
		Height: math.Abs(y - t.anchorY),
	}
	return nil
}

// PointerUp finalizes the rectangle. A region below the minimum size is
// discarded and the tracker returns to idle with draw mode still armed, so
// the coder can try again without re-arming.
func (t *BoxTracker) PointerUp() (Region, error) {
	if t.phase != PhaseDrawing {
		return Region{}, ErrDrawPhase
	}
	if t.box.Width <= MinBoxWidth || t.box.Height <= MinBoxHeight {
		t.phase = PhaseIdle
		return Region{}, ErrBoxTooSmall
	}
	t.phase = PhaseBoxDrawn
	return t.region(), nil
}

// OpenForm moves a drawn region into the form-open phase and disarms draw
// mode so stray pointer input cannot start a second capture underneath the
// form.
func (t *BoxTracker) OpenForm() (Region, error) {
	if t.phase != PhaseBoxDrawn {
		return Region{}, ErrDrawPhase
	}
	t.phase = PhaseFormOpen
	t.armed = false
	return t.region(), nil
}

// Region returns the held rectangle without consuming it. Valid while a
// box is drawn or the form is open.
func (t *BoxTracker) Region() (Region, error) {
	if t.phase != PhaseBoxDrawn && t.phase != PhaseFormOpen {
		return Region{}, ErrDrawPhase
	}
	return t.region(), nil
}

// Submit consumes the captured region after a successful form submission
// and resets the tracker to idle.
func (t *BoxTracker) Submit() (Region, error) {
	if t.phase != PhaseFormOpen {
		return Region{}, ErrDrawPhase
	}
	r := t.region()
	t.reset()
	return r, nil
}

// Cancel discards any in-progress capture and returns to idle, disarmed.
func (t *BoxTracker) Cancel() {
	t.reset()
}

func (t *BoxTracker) region() Region {
	return Region{DocumentName: t.document, PageNumber: t.page, Box: t.box}
}

func (t *BoxTracker) reset() {
	*t = BoxTracker{phase: PhaseIdle}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
