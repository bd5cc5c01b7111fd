// Package backend is the HTTP client for the upstream coding service: the
// system of record for coding results, decisions, comments, files, and the
// ICD terminology search.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/icdreview/icdreview/internal/domain/codes"
)

var (
	// ErrAuthExpired reports an upstream 401. The caller's session is no
	// longer valid anywhere and must be torn down.
	ErrAuthExpired = errors.New("upstream session expired")
	// ErrRemote reports any other upstream failure.
	ErrRemote = errors.New("upstream request failed")
)

// Client talks to the upstream coding service. It is safe for concurrent
// use; the bearer token is passed per call because one client serves every
// logged-in coder.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "backend").Logger(),
	}
}

// Login exchanges coder credentials for an upstream bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/login", "", nil, loginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: login response carried no token", ErrRemote)
	}
	return resp.Token, nil
}

// FetchCodes loads the current coding results for a document and decodes
// them into a flat record list. viewer selects whose verdict wins when a
// code carries decisions from several users.
func (c *Client) FetchCodes(ctx context.Context, token, documentID, viewer string) ([]codes.CodeRecord, error) {
	var resp codingResultsResponse
	q := url.Values{"document_id": {documentID}}
	if err := c.do(ctx, http.MethodGet, "/get_coding_results", token, q, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]codes.CodeRecord, 0, len(resp.Results.PrimaryCodes)+len(resp.Results.SecondaryCodes))
	for _, w := range resp.Results.PrimaryCodes {
		out = append(out, w.decode(codes.SectionPrimary, viewer))
	}
	for _, w := range resp.Results.SecondaryCodes {
		out = append(out, w.decode(codes.SectionSecondary, viewer))
	}
	return out, nil
}

// FetchFiles lists a document's source files and their per-page presigned
// view URLs.
func (c *Client) FetchFiles(ctx context.Context, token, documentID string) (*FileSet, error) {
	var resp FileSet
	q := url.Values{"document_id": {documentID}}
	if err := c.do(ctx, http.MethodGet, "/get_files", token, q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetDecision records an accept, reject, or undo against a code.
func (c *Client) SetDecision(ctx context.Context, token string, req DecisionRequest) error {
	q := url.Values{"target": {string(req.Target)}}
	body := decisionRequest{
		DocumentID:    req.DocumentID,
		DiagnosisCode: req.DiagnosisCode,
		Action:        string(req.Action),
	}
	return c.do(ctx, http.MethodPost, "/accept_reject_code", token, q, body, nil)
}

// AddCode creates a coder-added code, attaching the drawn evidence region
// when one was captured.
func (c *Client) AddCode(ctx context.Context, token string, req AddCodeRequest) error {
	entry := addCodeEntry{
		DiagnosisCode:         req.DiagnosisCode,
		ConsideredButExcluded: req.Excluded,
		Description:           req.Description,
		ReasonForCoding:       req.Rationale,
		ReasonForExclusion:    req.ExclusionReason,
	}
	if req.Region != nil {
		entry.Bbox = req.Region.Box.Polygon()
		entry.DocName = req.Region.DocumentName
		entry.PageNum = req.Region.PageNumber
	}
	q := url.Values{"target": {string(req.Target)}}
	body := addCodeRequest{DocumentID: req.DocumentID, Codes: []addCodeEntry{entry}}
	return c.do(ctx, http.MethodPost, "/add_code", token, q, body, nil)
}

// AddComment appends a coder note to a code.
func (c *Client) AddComment(ctx context.Context, token string, req CommentRequest) error {
	q := url.Values{"target": {string(req.Target)}}
	body := commentRequest{
		DocumentID:    req.DocumentID,
		DiagnosisCode: req.DiagnosisCode,
		Comment:       req.Comment,
	}
	return c.do(ctx, http.MethodPost, "/add_code_comment", token, q, body, nil)
}

// DeleteCode removes a coder-added code.
func (c *Client) DeleteCode(ctx context.Context, token, documentID, diagnosisCode string, target codes.Section) error {
	q := url.Values{"target": {string(target)}}
	body := deleteCodeRequest{DocumentID: documentID, DiagnosisCode: diagnosisCode}
	return c.do(ctx, http.MethodPost, "/delete_code", token, q, body, nil)
}

// SaveRanks persists a document's full section orderings in one call.
func (c *Client) SaveRanks(ctx context.Context, token string, upd RankUpdate) error {
	body := reorderRequest{
		DocumentID:     upd.DocumentID,
		PrimaryCodes:   upd.Primary,
		SecondaryCodes: upd.Secondary,
	}
	if body.PrimaryCodes == nil {
		body.PrimaryCodes = []RankEntry{}
	}
	if body.SecondaryCodes == nil {
		body.SecondaryCodes = []RankEntry{}
	}
	return c.do(ctx, http.MethodPost, "/reorder_codes", token, nil, body, nil)
}

// FetchProjects lists the coding projects and documents visible to the
// caller.
func (c *Client) FetchProjects(ctx context.Context, token string) ([]Project, error) {
	var resp projectsResponse
	if err := c.do(ctx, http.MethodGet, "/get_projects", token, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// SearchICD queries the upstream terminology index. key selects the match
// mode, "Code" or "Description".
func (c *Client) SearchICD(ctx context.Context, token, query, key string) ([]ICDEntry, error) {
	var resp []ICDEntry
	q := url.Values{"search_string": {query}, "key": {key}}
	if err := c.do(ctx, http.MethodGet, "/search_icd", token, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn().Str("path", path).Msg("upstream rejected token")
		return ErrAuthExpired
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		c.logger.Error().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("message", errResp.Message).
			Msg("upstream request failed")
		if errResp.Message != "" {
			return fmt.Errorf("%w: %s (status %d)", ErrRemote, errResp.Message, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d", ErrRemote, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrRemote, err)
		}
	}
	return nil
}
