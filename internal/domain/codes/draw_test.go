package codes

import (
	"errors"
	"math"
	"testing"
)

func TestBoxTracker_FullCapture(t *testing.T) {
	tr := NewBoxTracker()
	if err := tr.Arm(); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	if err := tr.PointerDown("discharge-summary.pdf", 3, 0.2, 0.3); err != nil {
		t.Fatalf("pointer down failed: %v", err)
	}
	if tr.Phase() != PhaseDrawing {
		t.Fatalf("phase = %q, want drawing", tr.Phase())
	}
	if err := tr.PointerMove(0.5, 0.45); err != nil {
		t.Fatalf("pointer move failed: %v", err)
	}
	region, err := tr.PointerUp()
	if err != nil {
		t.Fatalf("pointer up failed: %v", err)
	}
	if region.DocumentName != "discharge-summary.pdf" || region.PageNumber != 3 {
		t.Errorf("region anchored to %s page %d", region.DocumentName, region.PageNumber)
	}
	if math.Abs(region.Box.Width-0.3) > 1e-9 || math.Abs(region.Box.Height-0.15) > 1e-9 {
		t.Errorf("box extent = (%v, %v)", region.Box.Width, region.Box.Height)
	}

	if _, err := tr.OpenForm(); err != nil {
		t.Fatalf("open form failed: %v", err)
	}
	if tr.Armed() {
		t.Error("opening the form must disarm draw mode")
	}
	if _, err := tr.Submit(); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if tr.Phase() != PhaseIdle {
		t.Errorf("phase after submit = %q, want idle", tr.Phase())
	}
}

func TestBoxTracker_ReverseDrag(t *testing.T) {
	tr := NewBoxTracker()
	if err := tr.Arm(); err != nil {
		t.Fatal(err)
	}
	// Drag up and to the left of the anchor.
	if err := tr.PointerDown("note.pdf", 1, 0.8, 0.9); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerMove(0.6, 0.7); err != nil {
		t.Fatal(err)
	}
	region, err := tr.PointerUp()
	if err != nil {
		t.Fatalf("pointer up failed: %v", err)
	}
	if math.Abs(region.Box.X-0.6) > 1e-9 || math.Abs(region.Box.Y-0.7) > 1e-9 {
		t.Errorf("origin = (%v, %v), want (0.6, 0.7)", region.Box.X, region.Box.Y)
	}
}

func TestBoxTracker_TinyBoxDiscarded(t *testing.T) {
	tr := NewBoxTracker()
	if err := tr.Arm(); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerDown("note.pdf", 1, 0.5, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerMove(0.505, 0.505); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.PointerUp(); !errors.Is(err, ErrBoxTooSmall) {
		t.Fatalf("expected ErrBoxTooSmall, got %v", err)
	}
	// Tracker stays armed so the coder can immediately retry.
	if !tr.Armed() || tr.Phase() != PhaseIdle {
		t.Errorf("after discard: armed=%v phase=%q, want armed idle", tr.Armed(), tr.Phase())
	}
	if err := tr.PointerDown("note.pdf", 1, 0.1, 0.1); err != nil {
		t.Errorf("retry after discard failed: %v", err)
	}
}

func TestBoxTracker_PointerInputIgnoredWhenDisarmed(t *testing.T) {
	tr := NewBoxTracker()
	if err := tr.PointerDown("note.pdf", 1, 0.5, 0.5); !errors.Is(err, ErrNotArmed) {
		t.Errorf("expected ErrNotArmed, got %v", err)
	}
}

func TestBoxTracker_CancelClearsEverything(t *testing.T) {
	tr := NewBoxTracker()
	if err := tr.Arm(); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerDown("note.pdf", 2, 0.1, 0.1); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerMove(0.4, 0.4); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.PointerUp(); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.OpenForm(); err != nil {
		t.Fatal(err)
	}
	tr.Cancel()
	if tr.Phase() != PhaseIdle || tr.Armed() {
		t.Errorf("after cancel: phase=%q armed=%v", tr.Phase(), tr.Armed())
	}
	if _, err := tr.Submit(); !errors.Is(err, ErrDrawPhase) {
		t.Errorf("submit after cancel should fail, got %v", err)
	}
}

func TestBoxTracker_ClampsToPage(t *testing.T) {
	tr := NewBoxTracker()
	if err := tr.Arm(); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerDown("note.pdf", 1, 0.9, 0.9); err != nil {
		t.Fatal(err)
	}
	if err := tr.PointerMove(1.5, 1.5); err != nil {
		t.Fatal(err)
	}
	region, err := tr.PointerUp()
	if err != nil {
		t.Fatalf("pointer up failed: %v", err)
	}
	if region.Box.X+region.Box.Width > 1 || region.Box.Y+region.Box.Height > 1 {
		t.Errorf("box exceeds page: %+v", region.Box)
	}
}
