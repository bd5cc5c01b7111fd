package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/icdreview/icdreview/internal/domain/codes"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 5*time.Second, zerolog.Nop())
}

func TestFetchCodes_DecodesSections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_coding_results" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		if got := r.URL.Query().Get("document_id"); got != "doc-42" {
			t.Errorf("document_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"results": {
				"primary_codes": [{
					"diagnosis_code": "E11.9",
					"disease_description": "Type 2 diabetes mellitus",
					"reason_for_coding": "documented in H&P",
					"rank": 1,
					"supporting_info": [{
						"supporting_sentence_in_document": "T2DM on metformin",
						"document_name": "hp.pdf",
						"page_number": 2,
						"bbox": [0.1, 0.2, 0.4, 0.2, 0.4, 0.3, 0.1, 0.3]
					}],
					"user_decisions": {"jlee": {"status": "accept"}}
				}],
				"secondary_codes": [{
					"diagnosis_code": "Z79.4",
					"disease_description": "Long term insulin use",
					"rank": 1,
					"added_by": "jlee"
				}]
			}
		}`))
	})

	records, err := c.FetchCodes(context.Background(), "tok-1", "doc-42", "jlee")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	primary := records[0]
	if primary.Section != codes.SectionPrimary || primary.Decision != codes.DecisionAccepted {
		t.Errorf("primary record = %+v", primary)
	}
	if primary.Provenance != codes.ProvenanceAIModel {
		t.Errorf("provenance = %q, want AI model", primary.Provenance)
	}
	if len(primary.Evidence) != 1 || primary.Evidence[0].Box.X != 0.1 {
		t.Errorf("evidence = %+v", primary.Evidence)
	}

	added := records[1]
	if added.Provenance != codes.ProvenanceAdded || added.AddedBy != "jlee" {
		t.Errorf("added record = %+v", added)
	}
}

func TestFetchCodes_CodeTypeMarksAdded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": {"primary_codes": [], "secondary_codes": [{
			"diagnosis_code": "I11.0",
			"code_type": "ADDED"
		}]}}`))
	})
	records, err := c.FetchCodes(context.Background(), "tok", "doc", "jlee")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	rec := records[0]
	if rec.Provenance != codes.ProvenanceAdded {
		t.Errorf("provenance = %q, want added even without added_by", rec.Provenance)
	}
	if rec.Pending() {
		t.Error("coder-added code must never count as pending")
	}
}

func TestFetchCodes_OtherUserDecisionFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": {"primary_codes": [{
			"diagnosis_code": "I10",
			"user_decisions": {"zsmith": {"status": "reject"}}
		}], "secondary_codes": []}}`))
	})
	records, err := c.FetchCodes(context.Background(), "tok", "doc", "jlee")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if records[0].Decision != codes.DecisionRejected {
		t.Errorf("decision = %q, want rejected fallback", records[0].Decision)
	}
}

func TestFetchCodes_MalformedBboxSkipped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": {"primary_codes": [{
			"diagnosis_code": "I10",
			"supporting_info": [{"bbox": [0.1, 0.2]}]
		}], "secondary_codes": []}}`))
	})
	records, err := c.FetchCodes(context.Background(), "tok", "doc", "jlee")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records[0].Evidence) != 0 {
		t.Errorf("malformed evidence kept: %+v", records[0].Evidence)
	}
}

func TestSetDecision_Request(t *testing.T) {
	var got decisionRequest
	var target string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		target = r.URL.Query().Get("target")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})

	err := c.SetDecision(context.Background(), "tok", DecisionRequest{
		DocumentID:    "doc-1",
		DiagnosisCode: "E11.9",
		Action:        codes.ActionAccept,
		Target:        codes.SectionPrimary,
	})
	if err != nil {
		t.Fatalf("set decision failed: %v", err)
	}
	if target != "primary" || got.Action != "accept" || got.DiagnosisCode != "E11.9" {
		t.Errorf("request = target=%q body=%+v", target, got)
	}
}

func TestAddCode_CarriesRegionPolygon(t *testing.T) {
	var got addCodeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	})

	err := c.AddCode(context.Background(), "tok", AddCodeRequest{
		DocumentID:    "doc-1",
		DiagnosisCode: "J45.909",
		Description:   "Unspecified asthma",
		Rationale:     "wheezing on exam",
		Target:        codes.SectionSecondary,
		Region: &codes.Region{
			DocumentName: "progress.pdf",
			PageNumber:   4,
			Box:          codes.BoundingBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.1},
		},
	})
	if err != nil {
		t.Fatalf("add code failed: %v", err)
	}
	if len(got.Codes) != 1 {
		t.Fatalf("codes = %+v", got.Codes)
	}
	entry := got.Codes[0]
	if len(entry.Bbox) != 8 || entry.DocName != "progress.pdf" || entry.PageNum != 4 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestSaveRanks_EmptySectionsSendArrays(t *testing.T) {
	var raw map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
	})
	err := c.SaveRanks(context.Background(), "tok", RankUpdate{
		DocumentID: "doc-1",
		Primary:    []RankEntry{{DiagnosisCode: "A", Rank: 1}},
	})
	if err != nil {
		t.Fatalf("save ranks failed: %v", err)
	}
	if string(raw["secondary_codes"]) != "[]" {
		t.Errorf("secondary_codes = %s, want []", raw["secondary_codes"])
	}
}

func TestDo_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.FetchCodes(context.Background(), "stale", "doc", "jlee")
	if !errors.Is(err, ErrAuthExpired) {
		t.Errorf("expected ErrAuthExpired, got %v", err)
	}
}

func TestDo_RemoteErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message": "coding engine offline"}`))
	})
	err := c.SetDecision(context.Background(), "tok", DecisionRequest{Target: codes.SectionPrimary})
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if want := "coding engine offline"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q missing upstream message", err)
	}
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "jlee" || req.Password != "hunter2" {
			t.Errorf("credentials = %+v", req)
		}
		_, _ = w.Write([]byte(`{"token": "upstream-tok"}`))
	})
	tok, err := c.Login(context.Background(), "jlee", "hunter2")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if tok != "upstream-tok" {
		t.Errorf("token = %q", tok)
	}
}
