// Package review holds the per-coder document review workflow: the working
// copy of a document's code list, decision and reorder handling, and
// reconciliation against the upstream coding service.
package review

import (
	"sync"

	"github.com/icdreview/icdreview/internal/domain/codes"
)

// Session is one coder's open review of one document. It layers a working
// copy over the last snapshot fetched from the upstream service, tracks
// which codes the coder acted on during this session, and guards each code
// against overlapping decision requests.
type Session struct {
	mu sync.Mutex

	username   string
	documentID string

	working  []codes.CodeRecord
	snapshot []codes.CodeRecord

	// actions holds the diagnosis codes the coder decided during this
	// session. Only these are eligible for undo; decisions inherited from
	// the server or other users are not.
	actions map[string]struct{}

	// inflight guards each code against concurrent decision requests.
	inflight map[string]struct{}

	unsaved bool

	drag    *codes.DragController
	tracker *codes.BoxTracker
}

// NewSession creates an empty session for a coder and document.
func NewSession(username, documentID string) *Session {
	return &Session{
		username:   username,
		documentID: documentID,
		actions:    make(map[string]struct{}),
		inflight:   make(map[string]struct{}),
		drag:       &codes.DragController{},
		tracker:    codes.NewBoxTracker(),
	}
}

// Username returns the owning coder.
func (s *Session) Username() string { return s.username }

// DocumentID returns the document under review.
func (s *Session) DocumentID() string { return s.documentID }

// Replace installs a freshly loaded code list, discarding all working
// state. Used on first load and after an explicit discard.
func (s *Session) Replace(records []codes.CodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = codes.CloneList(records)
	s.snapshot = codes.CloneList(records)
	s.unsaved = false
	s.actions = make(map[string]struct{})
}

// ApplyServer reconciles a fresh server response into the session. With no
// unsaved local changes the response replaces the working copy wholesale.
// With unsaved rank changes the server still wins on content (decisions,
// comments, evidence, codes appearing or disappearing) but the local rank
// and section of codes the coder already holds are preserved, so an
// unsaved reorder survives the refresh.
func (s *Session) ApplyServer(fresh []codes.CodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unsaved {
		s.working = codes.CloneList(fresh)
		s.snapshot = codes.CloneList(fresh)
		return
	}
	merged := make([]codes.CodeRecord, 0, len(fresh))
	for _, f := range fresh {
		rec := f.Clone()
		if local := codes.FindRecord(s.working, f.DiagnosisCode); local != nil {
			rec.Rank = local.Rank
			rec.Section = local.Section
		} else {
			// New arrivals join unranked so they cannot collide with a
			// preserved local rank; renumbering slots them in after the
			// codes the coder already ordered.
			rec.Rank = 0
		}
		merged = append(merged, rec)
	}
	codes.Renumber(merged)
	s.working = merged
	s.snapshot = codes.CloneList(fresh)
}

// Records returns a copy of the working code list.
func (s *Session) Records() []codes.CodeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return codes.CloneList(s.working)
}

// Record returns a copy of one working record, or nil if absent.
func (s *Session) Record(diagnosisCode string) *codes.CodeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := codes.FindRecord(s.working, diagnosisCode)
	if rec == nil {
		return nil
	}
	cl := rec.Clone()
	return &cl
}

// Classify derives the grouped views and counts from the working copy.
func (s *Session) Classify() codes.Classification {
	return codes.Classify(s.Records())
}

// SetDecision writes a decision into the working copy. Returns false when
// the code is not present.
func (s *Session) SetDecision(diagnosisCode string, d codes.Decision) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := codes.FindRecord(s.working, diagnosisCode)
	if rec == nil {
		return false
	}
	rec.Decision = d
	return true
}

// AppendComment attaches a comment to a working record.
func (s *Session) AppendComment(diagnosisCode string, c codes.Comment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := codes.FindRecord(s.working, diagnosisCode)
	if rec == nil {
		return false
	}
	rec.Comments = append(rec.Comments, c)
	return true
}

// MarkAction records that the coder decided this code in this session,
// making it eligible for undo.
func (s *Session) MarkAction(diagnosisCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[diagnosisCode] = struct{}{}
}

// UnmarkAction withdraws undo eligibility, used after an undo completes.
func (s *Session) UnmarkAction(diagnosisCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, diagnosisCode)
}

// CanUndo reports whether the coder decided this code during this session.
func (s *Session) CanUndo(diagnosisCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.actions[diagnosisCode]
	return ok
}

// Actions lists the codes acted on this session.
func (s *Session) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.actions))
	for code := range s.actions {
		out = append(out, code)
	}
	return out
}

// BeginOp acquires the per-code operation guard. It returns false when a
// request for the same code is already in flight.
func (s *Session) BeginOp(diagnosisCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[diagnosisCode]; busy {
		return false
	}
	s.inflight[diagnosisCode] = struct{}{}
	return true
}

// EndOp releases the per-code operation guard.
func (s *Session) EndOp(diagnosisCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, diagnosisCode)
}

// ApplyReorder installs a reordered working copy and flags the session as
// having unsaved rank changes.
func (s *Session) ApplyReorder(records []codes.CodeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = records
	s.unsaved = true
}

// MarkSaved clears the unsaved flag after ranks were persisted. The
// snapshot catches up to the working copy.
func (s *Session) MarkSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = codes.CloneList(s.working)
	s.unsaved = false
}

// Discard reverts the working copy to the last server snapshot.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = codes.CloneList(s.snapshot)
	s.unsaved = false
}

// Unsaved reports whether the session holds rank changes not yet persisted.
func (s *Session) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// Drag returns the session's drag controller.
func (s *Session) Drag() *codes.DragController { return s.drag }

// Tracker returns the session's evidence capture tracker.
func (s *Session) Tracker() *codes.BoxTracker { return s.tracker }
