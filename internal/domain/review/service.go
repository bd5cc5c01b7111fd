package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icdreview/icdreview/internal/domain/codes"
	"github.com/icdreview/icdreview/internal/platform/backend"
)

// Backend is the slice of the upstream coding service the review workflow
// needs.
type Backend interface {
	FetchCodes(ctx context.Context, token, documentID, viewer string) ([]codes.CodeRecord, error)
	FetchFiles(ctx context.Context, token, documentID string) (*backend.FileSet, error)
	SetDecision(ctx context.Context, token string, req backend.DecisionRequest) error
	AddCode(ctx context.Context, token string, req backend.AddCodeRequest) error
	AddComment(ctx context.Context, token string, req backend.CommentRequest) error
	DeleteCode(ctx context.Context, token, documentID, diagnosisCode string, target codes.Section) error
	SaveRanks(ctx context.Context, token string, upd backend.RankUpdate) error
}

// ErrOpInFlight reports a decision request for a code that already has one
// running.
var ErrOpInFlight = errors.New("operation already in flight for this code")

// Notification kinds the client renders differently: green toast, yellow
// policy rejection, red failure.
const (
	NoteSuccess   = "success"
	NoteRejection = "rejection"
	NoteError     = "error"
)

// Notification is a user-facing outcome message.
type Notification struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// View is the full review state returned to the client after every
// operation.
type View struct {
	DocumentID string `json:"document_id"`
	codes.Classification
	HasUnsavedChanges bool     `json:"has_unsaved_changes"`
	SessionActions    []string `json:"session_actions"`
}

// AddCodeInput is a coder-added code before it is sent upstream.
type AddCodeInput struct {
	DiagnosisCode   string        `json:"diagnosis_code"`
	Description     string        `json:"description"`
	Rationale       string        `json:"rationale"`
	Excluded        bool          `json:"excluded"`
	ExclusionReason string        `json:"exclusion_reason"`
	Section         codes.Section `json:"section"`
	Region          *codes.Region `json:"region,omitempty"`
}

// CaptureEvent is one pointer step of an evidence-region capture.
type CaptureEvent struct {
	Kind         string  `json:"kind"` // down, move, up
	DocumentName string  `json:"document_name"`
	PageNumber   int     `json:"page_number"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

// CaptureState reports the capture lifecycle back to the client after
// every capture call.
type CaptureState struct {
	Phase  codes.DrawPhase `json:"phase"`
	Armed  bool            `json:"armed"`
	Region *codes.Region   `json:"region,omitempty"`
}

// LeaveMode is the coder's choice on the unsaved-changes prompt.
type LeaveMode string

const (
	LeaveSave    LeaveMode = "save"
	LeaveDiscard LeaveMode = "discard"
	LeaveCancel  LeaveMode = "cancel"
)

// LeaveResult tells the client whether navigation may proceed.
type LeaveResult struct {
	Proceed      bool          `json:"proceed"`
	Notification *Notification `json:"notification,omitempty"`
}

// Service coordinates review sessions: one per (coder, document), created
// on first load and dropped on logout or auth expiry.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	backend Backend
	logger  zerolog.Logger
}

// NewService builds the review service.
func NewService(b Backend, logger zerolog.Logger) *Service {
	return &Service{
		sessions: make(map[string]*Session),
		backend:  b,
		logger:   logger.With().Str("component", "review").Logger(),
	}
}

func sessionKey(username, documentID string) string {
	return username + "\x00" + documentID
}

// session returns the existing session for a coder and document, fetching
// the document's codes and creating the session when absent. created
// reports whether this call made the session, in which case the working
// copy is already fresh.
func (s *Service) session(ctx context.Context, token, username, documentID string) (sess *Session, created bool, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionKey(username, documentID)]
	s.mu.Unlock()
	if ok {
		return sess, false, nil
	}

	records, err := s.backend.FetchCodes(ctx, token, documentID, username)
	if err != nil {
		return nil, false, err
	}
	sess = NewSession(username, documentID)
	sess.Replace(records)

	s.mu.Lock()
	// A concurrent request may have created it in the meantime.
	if existing, ok := s.sessions[sessionKey(username, documentID)]; ok {
		sess = existing
		created = false
	} else {
		s.sessions[sessionKey(username, documentID)] = sess
		created = true
	}
	s.mu.Unlock()
	return sess, created, nil
}

// DropUser discards every session a coder holds. Called on logout and when
// the upstream service rejects their token.
func (s *Service) DropUser(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sess := range s.sessions {
		if sess.Username() == username {
			delete(s.sessions, key)
		}
	}
}

// LoadDocument opens (or refreshes) a document review and returns the
// current view. An already-open session is reconciled against a fresh
// fetch rather than reset, so unsaved rank changes survive a reload.
func (s *Service) LoadDocument(ctx context.Context, token, username, documentID string) (*View, error) {
	sess, created, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	// A just-created session was loaded from a fetch this call made.
	if !created {
		if err := s.refresh(ctx, token, sess); err != nil {
			return nil, err
		}
	}
	return s.view(sess), nil
}

// Decide applies an accept, reject, or undo to a code: the working copy is
// updated first, the upstream service second. An upstream failure leaves
// the optimistic state in place and reports an error notification; only an
// auth expiry propagates as an error.
func (s *Service) Decide(ctx context.Context, token, username, documentID, diagnosisCode string, action codes.Action) (*View, Notification, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, Notification{}, err
	}

	rec := sess.Record(diagnosisCode)
	if rec == nil {
		return nil, Notification{}, fmt.Errorf("%w: %s", codes.ErrCodeNotFound, diagnosisCode)
	}
	if action == codes.ActionUndo && !sess.CanUndo(diagnosisCode) {
		return s.view(sess), Notification{
			Kind:    NoteRejection,
			Message: "only decisions made in this session can be undone",
		}, nil
	}
	if !sess.BeginOp(diagnosisCode) {
		return nil, Notification{}, ErrOpInFlight
	}
	defer sess.EndOp(diagnosisCode)

	next, err := codes.Transition(rec.Decision, action)
	if err != nil {
		return nil, Notification{}, err
	}

	sess.SetDecision(diagnosisCode, next)
	switch action {
	case codes.ActionUndo:
		sess.UnmarkAction(diagnosisCode)
	default:
		sess.MarkAction(diagnosisCode)
	}

	err = s.backend.SetDecision(ctx, token, backend.DecisionRequest{
		DocumentID:    documentID,
		DiagnosisCode: diagnosisCode,
		Action:        action,
		Target:        rec.Section,
	})
	if err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
		s.logger.Error().Err(err).
			Str("document_id", documentID).
			Str("diagnosis_code", diagnosisCode).
			Str("action", string(action)).
			Msg("decision not persisted upstream")
		return s.view(sess), Notification{
			Kind:    NoteError,
			Message: fmt.Sprintf("decision for %s was not saved, please try again", diagnosisCode),
		}, nil
	}

	if err := s.refresh(ctx, token, sess); err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
		s.logger.Warn().Err(err).Str("document_id", documentID).Msg("refresh after decision failed")
	}
	return s.view(sess), Notification{Kind: NoteSuccess, Message: decisionMessage(diagnosisCode, action)}, nil
}

// AddCode submits a coder-added code, optionally with a drawn evidence
// region, then refreshes from upstream so the new record arrives with its
// server-assigned fields.
func (s *Service) AddCode(ctx context.Context, token, username, documentID string, in AddCodeInput) (*View, Notification, error) {
	if in.DiagnosisCode == "" {
		return nil, Notification{}, fmt.Errorf("%w: diagnosis code is required", codes.ErrValidation)
	}
	if !in.Section.Valid() {
		return nil, Notification{}, fmt.Errorf("%w: unknown section %q", codes.ErrValidation, in.Section)
	}
	if in.Region != nil {
		if err := in.Region.Box.Validate(); err != nil {
			return nil, Notification{}, err
		}
	}

	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, Notification{}, err
	}
	if sess.Record(in.DiagnosisCode) != nil {
		return s.view(sess), Notification{
			Kind:    NoteRejection,
			Message: fmt.Sprintf("%s is already on this document", in.DiagnosisCode),
		}, nil
	}

	// A capture held by the tracker backs the add when the request does
	// not carry its own region. It is consumed only after upstream
	// accepts, so a failure leaves the form open with the box intact.
	region := in.Region
	tracker := sess.Tracker()
	fromTracker := false
	if region == nil && tracker.Phase() == codes.PhaseFormOpen {
		if r, err := tracker.Region(); err == nil {
			region = &r
			fromTracker = true
		}
	}

	err = s.backend.AddCode(ctx, token, backend.AddCodeRequest{
		DocumentID:      documentID,
		DiagnosisCode:   in.DiagnosisCode,
		Description:     in.Description,
		Rationale:       in.Rationale,
		Excluded:        in.Excluded,
		ExclusionReason: in.ExclusionReason,
		Target:          in.Section,
		Region:          region,
	})
	if err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
		s.logger.Error().Err(err).Str("document_id", documentID).Str("diagnosis_code", in.DiagnosisCode).Msg("add code failed upstream")
		return s.view(sess), Notification{
			Kind:    NoteError,
			Message: fmt.Sprintf("failed to add %s", in.DiagnosisCode),
		}, nil
	}
	if fromTracker {
		_, _ = tracker.Submit()
	}

	if err := s.refresh(ctx, token, sess); err != nil {
		return nil, Notification{}, err
	}
	return s.view(sess), Notification{Kind: NoteSuccess, Message: fmt.Sprintf("%s added", in.DiagnosisCode)}, nil
}

// CaptureArm turns on draw mode for the session's evidence capture.
func (s *Service) CaptureArm(ctx context.Context, token, username, documentID string) (*CaptureState, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	if err := sess.Tracker().Arm(); err != nil {
		return nil, err
	}
	return captureState(sess.Tracker()), nil
}

// CaptureDisarm turns draw mode off. An in-progress capture is untouched.
func (s *Service) CaptureDisarm(ctx context.Context, token, username, documentID string) (*CaptureState, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	sess.Tracker().Disarm()
	return captureState(sess.Tracker()), nil
}

// CapturePointer feeds one pointer event into the capture state machine.
// A pointer-up below the minimum box size reports a rejection notification
// and leaves draw mode armed so the coder can redraw immediately.
func (s *Service) CapturePointer(ctx context.Context, token, username, documentID string, ev CaptureEvent) (*CaptureState, *Notification, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, nil, err
	}
	tracker := sess.Tracker()
	switch ev.Kind {
	case "down":
		err = tracker.PointerDown(ev.DocumentName, ev.PageNumber, ev.X, ev.Y)
	case "move":
		err = tracker.PointerMove(ev.X, ev.Y)
	case "up":
		if _, upErr := tracker.PointerUp(); upErr != nil {
			if errors.Is(upErr, codes.ErrBoxTooSmall) {
				return captureState(tracker), &Notification{
					Kind:    NoteRejection,
					Message: "drawn region is too small, draw a larger box",
				}, nil
			}
			err = upErr
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown pointer event %q", codes.ErrValidation, ev.Kind)
	}
	if err != nil {
		return nil, nil, err
	}
	return captureState(tracker), nil, nil
}

// CaptureOpenForm moves a drawn box into the form-open phase, disarming
// draw mode underneath the add-code form.
func (s *Service) CaptureOpenForm(ctx context.Context, token, username, documentID string) (*CaptureState, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Tracker().OpenForm(); err != nil {
		return nil, err
	}
	return captureState(sess.Tracker()), nil
}

// CaptureCancel discards any capture in progress.
func (s *Service) CaptureCancel(ctx context.Context, token, username, documentID string) (*CaptureState, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	sess.Tracker().Cancel()
	return captureState(sess.Tracker()), nil
}

func captureState(t *codes.BoxTracker) *CaptureState {
	state := &CaptureState{Phase: t.Phase(), Armed: t.Armed()}
	if r, err := t.Region(); err == nil {
		state.Region = &r
	}
	return state
}

// AddComment appends a note to a code, optimistically locally and then
// upstream.
func (s *Service) AddComment(ctx context.Context, token, username, documentID, diagnosisCode, text string) (*View, Notification, error) {
	if text == "" {
		return nil, Notification{}, fmt.Errorf("%w: comment text is required", codes.ErrValidation)
	}
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, Notification{}, err
	}
	rec := sess.Record(diagnosisCode)
	if rec == nil {
		return nil, Notification{}, fmt.Errorf("%w: %s", codes.ErrCodeNotFound, diagnosisCode)
	}

	sess.AppendComment(diagnosisCode, codes.Comment{
		ID:        uuid.NewString(),
		Text:      text,
		Author:    username,
		CreatedAt: time.Now().UTC(),
	})

	err = s.backend.AddComment(ctx, token, backend.CommentRequest{
		DocumentID:    documentID,
		DiagnosisCode: diagnosisCode,
		Target:        rec.Section,
		Comment:       text,
	})
	if err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
		s.logger.Error().Err(err).Str("diagnosis_code", diagnosisCode).Msg("comment not persisted upstream")
		return s.view(sess), Notification{Kind: NoteError, Message: "failed to save comment"}, nil
	}
	if err := s.refresh(ctx, token, sess); err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
	}
	return s.view(sess), Notification{Kind: NoteSuccess, Message: "comment added"}, nil
}

// DeleteCode removes a coder-added code. AI suggestions cannot be deleted,
// only rejected.
func (s *Service) DeleteCode(ctx context.Context, token, username, documentID, diagnosisCode string) (*View, Notification, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, Notification{}, err
	}
	rec := sess.Record(diagnosisCode)
	if rec == nil {
		return nil, Notification{}, fmt.Errorf("%w: %s", codes.ErrCodeNotFound, diagnosisCode)
	}
	if rec.Provenance != codes.ProvenanceAdded {
		return s.view(sess), Notification{
			Kind:    NoteRejection,
			Message: "suggested codes cannot be deleted, reject them instead",
		}, nil
	}

	if err := s.backend.DeleteCode(ctx, token, documentID, diagnosisCode, rec.Section); err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
		s.logger.Error().Err(err).Str("diagnosis_code", diagnosisCode).Msg("delete failed upstream")
		return s.view(sess), Notification{Kind: NoteError, Message: fmt.Sprintf("failed to delete %s", diagnosisCode)}, nil
	}
	if err := s.refresh(ctx, token, sess); err != nil {
		return nil, Notification{}, err
	}
	return s.view(sess), Notification{Kind: NoteSuccess, Message: fmt.Sprintf("%s deleted", diagnosisCode)}, nil
}

// Reorder runs one drag-and-drop move through the session's drag
// controller. The result stays local until Save; the session is flagged as
// having unsaved changes.
func (s *Service) Reorder(ctx context.Context, token, username, documentID string, mv codes.Move) (*View, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	rec := sess.Record(mv.DiagnosisCode)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", codes.ErrCodeNotFound, mv.DiagnosisCode)
	}

	drag := sess.Drag()
	if err := drag.Start(*rec, mv.FromSection, 0); err != nil {
		return nil, err
	}
	drag.Over(mv.ToSection, mv.ToIndex)
	reordered, err := drag.Drop(sess.Records(), mv.ToSection, mv.ToIndex)
	if err != nil {
		return nil, err
	}
	sess.ApplyReorder(reordered)
	return s.view(sess), nil
}

// Save persists the session's section orderings upstream in one call and
// clears the unsaved flag on success.
func (s *Service) Save(ctx context.Context, token, username, documentID string) (*View, Notification, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, Notification{}, err
	}

	c := sess.Classify()
	upd := backend.RankUpdate{
		DocumentID: documentID,
		Primary:    rankEntries(c.Primary),
		Secondary:  rankEntries(c.Secondary),
	}
	if err := s.backend.SaveRanks(ctx, token, upd); err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
		s.logger.Error().Err(err).Str("document_id", documentID).Msg("rank save failed upstream")
		return s.view(sess), Notification{Kind: NoteError, Message: "failed to save code order"}, nil
	}

	sess.MarkSaved()
	if err := s.refresh(ctx, token, sess); err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return nil, Notification{}, err
		}
	}
	return s.view(sess), Notification{Kind: NoteSuccess, Message: "code order saved"}, nil
}

// Leave resolves a navigation attempt away from a document. With nothing
// unsaved it always proceeds. Otherwise the mode decides: save persists
// and proceeds, discard reverts to the last server state and proceeds,
// cancel stays put.
func (s *Service) Leave(ctx context.Context, token, username, documentID string, mode LeaveMode) (*LeaveResult, error) {
	sess, _, err := s.session(ctx, token, username, documentID)
	if err != nil {
		return nil, err
	}
	if !sess.Unsaved() {
		return &LeaveResult{Proceed: true}, nil
	}

	switch mode {
	case LeaveSave:
		_, note, err := s.Save(ctx, token, username, documentID)
		if err != nil {
			return nil, err
		}
		if note.Kind == NoteError {
			return &LeaveResult{Proceed: false, Notification: &note}, nil
		}
		return &LeaveResult{Proceed: true, Notification: &note}, nil
	case LeaveDiscard:
		sess.Discard()
		return &LeaveResult{Proceed: true}, nil
	case LeaveCancel:
		return &LeaveResult{Proceed: false}, nil
	default:
		return nil, fmt.Errorf("%w: unknown leave mode %q", codes.ErrValidation, mode)
	}
}

// Files lists a document's source files with presigned page URLs.
func (s *Service) Files(ctx context.Context, token, documentID string) (*backend.FileSet, error) {
	return s.backend.FetchFiles(ctx, token, documentID)
}

func (s *Service) refresh(ctx context.Context, token string, sess *Session) error {
	records, err := s.backend.FetchCodes(ctx, token, sess.DocumentID(), sess.Username())
	if err != nil {
		return err
	}
	sess.ApplyServer(records)
	return nil
}

func (s *Service) view(sess *Session) *View {
	actions := sess.Actions()
	sort.Strings(actions)
	return &View{
		DocumentID:        sess.DocumentID(),
		Classification:    sess.Classify(),
		HasUnsavedChanges: sess.Unsaved(),
		SessionActions:    actions,
	}
}

func rankEntries(section []codes.CodeRecord) []backend.RankEntry {
	out := make([]backend.RankEntry, 0, len(section))
	for _, r := range section {
		if r.Rejected() {
			continue
		}
		out = append(out, backend.RankEntry{DiagnosisCode: r.DiagnosisCode, Rank: r.Rank})
	}
	return out
}

func decisionMessage(diagnosisCode string, action codes.Action) string {
	switch action {
	case codes.ActionAccept:
		return fmt.Sprintf("%s accepted", diagnosisCode)
	case codes.ActionReject:
		return fmt.Sprintf("%s rejected", diagnosisCode)
	default:
		return fmt.Sprintf("decision on %s undone", diagnosisCode)
	}
}
