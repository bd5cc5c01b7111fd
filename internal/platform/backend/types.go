package backend

import (
	"sort"
	"time"

	"github.com/icdreview/icdreview/internal/domain/codes"
)

// Wire shapes of the upstream coding service. Field names follow its JSON
// contract, not ours.

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type codingResultsResponse struct {
	Results struct {
		PrimaryCodes   []wireCode `json:"primary_codes"`
		SecondaryCodes []wireCode `json:"secondary_codes"`
	} `json:"results"`
}

type wireCode struct {
	DiagnosisCode         string                  `json:"diagnosis_code"`
	DiseaseDescription    string                  `json:"disease_description"`
	ReasonForCoding       string                  `json:"reason_for_coding"`
	ConsideredButExcluded bool                    `json:"considered_but_excluded"`
	ReasonForExclusion    string                  `json:"reason_for_exclusion"`
	Rank                  int                     `json:"rank"`
	CodeType              string                  `json:"code_type"`
	AddedBy               string                  `json:"added_by"`
	SupportingInfo        []wireEvidence          `json:"supporting_info"`
	Comments              []wireComment           `json:"comments"`
	UserDecisions         map[string]wireDecision `json:"user_decisions"`
}

type wireEvidence struct {
	Sentence     string    `json:"supporting_sentence_in_document"`
	DocumentName string    `json:"document_name"`
	SectionName  string    `json:"section_name"`
	PageNumber   int       `json:"page_number"`
	Bbox         []float64 `json:"bbox"`
	AddedBy      string    `json:"added_by"`
}

type wireDecision struct {
	Status string `json:"status"`
}

type wireComment struct {
	ID        string    `json:"id"`
	Text      string    `json:"comment"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type decisionRequest struct {
	DocumentID    string `json:"document_id"`
	DiagnosisCode string `json:"diagnosis_code"`
	Action        string `json:"action"`
}

type addCodeRequest struct {
	DocumentID string         `json:"document_id"`
	Codes      []addCodeEntry `json:"codes"`
}

type addCodeEntry struct {
	DiagnosisCode         string    `json:"diagnosis_code"`
	ConsideredButExcluded bool      `json:"considered_but_excluded"`
	Description           string    `json:"description"`
	ReasonForCoding       string    `json:"reason_for_coding"`
	ReasonForExclusion    string    `json:"reason_for_exclusion"`
	Bbox                  []float64 `json:"bbox,omitempty"`
	DocName               string    `json:"doc_name,omitempty"`
	PageNum               int       `json:"page_num,omitempty"`
}

type commentRequest struct {
	DocumentID    string `json:"document_id"`
	DiagnosisCode string `json:"diagnosis_code"`
	Comment       string `json:"comment"`
}

type deleteCodeRequest struct {
	DocumentID    string `json:"document_id"`
	DiagnosisCode string `json:"diagnosis_code"`
}

type reorderRequest struct {
	DocumentID     string      `json:"document_id"`
	PrimaryCodes   []RankEntry `json:"primary_codes"`
	SecondaryCodes []RankEntry `json:"secondary_codes"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// RankEntry is one code's persisted position within its section.
type RankEntry struct {
	DiagnosisCode string `json:"diagnosis_code"`
	Rank          int    `json:"rank"`
}

// RankUpdate carries a document's full ordering for both sections. The
// upstream service replaces its stored ranks wholesale, so both slices list
// every unrejected code of their section.
type RankUpdate struct {
	DocumentID string
	Primary    []RankEntry
	Secondary  []RankEntry
}

// DecisionRequest records one coder verdict against the upstream service.
type DecisionRequest struct {
	DocumentID    string
	DiagnosisCode string
	Action        codes.Action
	Target        codes.Section
}

// AddCodeRequest creates a coder-added code, optionally anchored to a drawn
// evidence region.
type AddCodeRequest struct {
	DocumentID      string
	DiagnosisCode   string
	Description     string
	Rationale       string
	Excluded        bool
	ExclusionReason string
	Target          codes.Section
	Region          *codes.Region
}

// CommentRequest appends a coder note to a code.
type CommentRequest struct {
	DocumentID    string
	DiagnosisCode string
	Target        codes.Section
	Comment       string
}

// FileSet lists a document's source files with per-page presigned view
// URLs, keyed file -> page -> URL.
type FileSet struct {
	Files         []string                     `json:"files"`
	PresignedURLs map[string]map[string]string `json:"presigned_urls"`
}

// DocumentRef identifies one reviewable document within a project.
type DocumentRef struct {
	ID     string `json:"document_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Project is one coding project with its documents.
type Project struct {
	ID        string        `json:"project_id"`
	Name      string        `json:"name"`
	Documents []DocumentRef `json:"documents"`
}

type projectsResponse struct {
	Projects []Project `json:"projects"`
}

// ICDEntry is one terminology search hit from the upstream service.
type ICDEntry struct {
	Code        string `json:"Code"`
	Description string `json:"Description"`
}

// decode converts one wire code into the domain record. viewer is the
// logged-in coder whose decision takes precedence when several users have
// reviewed the same code.
func (w wireCode) decode(section codes.Section, viewer string) codes.CodeRecord {
	rec := codes.CodeRecord{
		DiagnosisCode:   w.DiagnosisCode,
		Description:     w.DiseaseDescription,
		Provenance:      codes.ProvenanceAIModel,
		Section:         section,
		Rank:            w.Rank,
		Rationale:       w.ReasonForCoding,
		Excluded:        w.ConsideredButExcluded,
		ExclusionReason: w.ReasonForExclusion,
		Decision:        w.decision(viewer),
	}
	// code_type is authoritative; added_by is the fallback for older
	// responses that omit it.
	if w.CodeType == string(codes.ProvenanceAdded) || w.AddedBy != "" {
		rec.Provenance = codes.ProvenanceAdded
		rec.AddedBy = w.AddedBy
	}
	for _, ev := range w.SupportingInfo {
		box, err := codes.BoxFromPolygon(ev.Bbox)
		if err != nil {
			// Malformed regions are dropped rather than failing the
			// whole document load.
			continue
		}
		rec.Evidence = append(rec.Evidence, codes.EvidenceItem{
			Sentence:     ev.Sentence,
			DocumentName: ev.DocumentName,
			SectionName:  ev.SectionName,
			PageNumber:   ev.PageNumber,
			Box:          box,
			AddedBy:      ev.AddedBy,
		})
	}
	for _, c := range w.Comments {
		rec.Comments = append(rec.Comments, codes.Comment{
			ID:        c.ID,
			Text:      c.Text,
			Author:    c.Author,
			CreatedAt: c.CreatedAt,
		})
	}
	return rec
}

// decision resolves the per-user decision map: the viewer's own verdict
// wins; otherwise the first recorded verdict (by username, for determinism)
// is shown.
func (w wireCode) decision(viewer string) codes.Decision {
	if d, ok := w.UserDecisions[viewer]; ok {
		return decodeStatus(d.Status)
	}
	users := make([]string, 0, len(w.UserDecisions))
	for u := range w.UserDecisions {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		if d := decodeStatus(w.UserDecisions[u].Status); d != codes.DecisionNone {
			return d
		}
	}
	return codes.DecisionNone
}

func decodeStatus(status string) codes.Decision {
	switch status {
	case "accept", "accepted":
		return codes.DecisionAccepted
	case "reject", "rejected":
		return codes.DecisionRejected
	default:
		return codes.DecisionNone
	}
}
