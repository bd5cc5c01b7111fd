package codes

import (
	"errors"
	"testing"
)

func TestDragController_FullCycle(t *testing.T) {
	records := []CodeRecord{
		{DiagnosisCode: "A", Section: SectionPrimary, Rank: 1},
		{DiagnosisCode: "B", Section: SectionPrimary, Rank: 2},
	}
	var d DragController

	if err := d.Start(records[1], SectionPrimary, 1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	d.Over(SectionPrimary, 0)
	if tgt := d.Target(); tgt == nil || tgt.Index != 0 {
		t.Fatalf("target = %+v", tgt)
	}

	out, err := d.Drop(records, SectionPrimary, 0)
	if err != nil {
		t.Fatalf("drop failed: %v", err)
	}
	if FindRecord(out, "B").Rank != 1 || FindRecord(out, "A").Rank != 2 {
		t.Errorf("ranks after drop: B=%d A=%d", FindRecord(out, "B").Rank, FindRecord(out, "A").Rank)
	}
	if d.Active() != nil {
		t.Error("controller should be idle after drop")
	}
}

func TestDragController_SingleDragAtATime(t *testing.T) {
	rec := CodeRecord{DiagnosisCode: "A", Section: SectionPrimary, Rank: 1}
	var d DragController
	if err := d.Start(rec, SectionPrimary, 0); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := d.Start(rec, SectionPrimary, 0); !errors.Is(err, ErrDragActive) {
		t.Errorf("expected ErrDragActive, got %v", err)
	}
}

func TestDragController_RejectedRefused(t *testing.T) {
	rec := CodeRecord{DiagnosisCode: "A", Section: SectionPrimary, Decision: DecisionRejected}
	var d DragController
	if err := d.Start(rec, SectionPrimary, 0); !errors.Is(err, ErrRejectedImmutable) {
		t.Errorf("expected ErrRejectedImmutable, got %v", err)
	}
	if d.Active() != nil {
		t.Error("refused start must leave controller idle")
	}
}

func TestDragController_Cancel(t *testing.T) {
	rec := CodeRecord{DiagnosisCode: "A", Section: SectionPrimary, Rank: 1}
	var d DragController
	if err := d.Start(rec, SectionPrimary, 0); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	d.Cancel()
	if d.Active() != nil || d.Target() != nil {
		t.Error("cancel must clear all drag state")
	}
	// Cancel leaves the controller ready for a new drag.
	if err := d.Start(rec, SectionPrimary, 0); err != nil {
		t.Errorf("restart after cancel failed: %v", err)
	}
}

func TestDragController_DropWithoutStart(t *testing.T) {
	records := []CodeRecord{{DiagnosisCode: "A", Section: SectionPrimary, Rank: 1}}
	var d DragController
	out, err := d.Drop(records, SectionPrimary, 0)
	if !errors.Is(err, ErrNoDrag) {
		t.Errorf("expected ErrNoDrag, got %v", err)
	}
	if &out[0] != &records[0] {
		t.Error("failed drop must return the input list unchanged")
	}
}

func TestDragController_FailedDropResets(t *testing.T) {
	// The record turns rejected between start and drop; the move fails but
	// the controller still resets.
	records := []CodeRecord{{DiagnosisCode: "A", Section: SectionPrimary, Rank: 1}}
	var d DragController
	if err := d.Start(records[0], SectionPrimary, 0); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	records[0].Decision = DecisionRejected
	if _, err := d.Drop(records, SectionPrimary, 0); !errors.Is(err, ErrRejectedImmutable) {
		t.Errorf("expected ErrRejectedImmutable, got %v", err)
	}
	if d.Active() != nil {
		t.Error("controller must be idle after a failed drop")
	}
}
