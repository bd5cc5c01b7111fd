package review

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/icdreview/icdreview/internal/domain/codes"
	"github.com/icdreview/icdreview/internal/platform/auth"
	"github.com/icdreview/icdreview/internal/platform/backend"
	"github.com/icdreview/icdreview/pkg/pagination"
)

// Authenticator exchanges coder credentials for an upstream token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// ProjectLister lists the projects and documents a coder may review.
type ProjectLister interface {
	FetchProjects(ctx context.Context, token string) ([]backend.Project, error)
}

// Handler provides the REST endpoints of the review workflow.
type Handler struct {
	svc      *Service
	authn    Authenticator
	projects ProjectLister
	store    *auth.MemoryStore
	issuer   *auth.TokenIssuer
	logger   zerolog.Logger
}

// NewHandler creates a review handler.
func NewHandler(svc *Service, authn Authenticator, projects ProjectLister, store *auth.MemoryStore, issuer *auth.TokenIssuer, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		authn:    authn,
		projects: projects,
		store:    store,
		issuer:   issuer,
		logger:   logger.With().Str("component", "review_handler").Logger(),
	}
}

// RegisterRoutes registers all review routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.POST("/auth/logout", h.Logout)

	api.GET("/projects", h.ListProjects)

	review := api.Group("/review/:docID")
	review.GET("/codes", h.GetCodes)
	review.POST("/codes", h.AddCode)
	review.DELETE("/codes/:code", h.DeleteCode)
	review.POST("/codes/:code/decision", h.Decide)
	review.POST("/codes/:code/comments", h.AddComment)
	review.POST("/capture/arm", h.CaptureArm)
	review.POST("/capture/disarm", h.CaptureDisarm)
	review.POST("/capture/pointer", h.CapturePointer)
	review.POST("/capture/form", h.CaptureOpenForm)
	review.POST("/capture/cancel", h.CaptureCancel)
	review.POST("/reorder", h.Reorder)
	review.POST("/save", h.Save)
	review.POST("/leave", h.Leave)
	review.GET("/files", h.Files)
}

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginReply struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Login handles POST /api/v1/auth/login. It forwards the credentials to
// the upstream coding service and wraps the upstream token in a session of
// our own.
func (h *Handler) Login(c echo.Context) error {
	var body loginBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Username == "" || body.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	upstreamToken, err := h.authn.Login(c.Request().Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, backend.ErrAuthExpired) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		h.logger.Error().Err(err).Str("username", body.Username).Msg("login failed")
		return echo.NewHTTPError(http.StatusBadGateway, "login service unavailable")
	}

	sess := h.store.Create(body.Username, upstreamToken)
	token, err := h.issuer.Issue(sess)
	if err != nil {
		h.logger.Error().Err(err).Msg("token issue failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not create session")
	}
	h.logger.Info().Str("username", body.Username).Msg("coder logged in")
	return c.JSON(http.StatusOK, loginReply{Token: token, Username: body.Username})
}

// Logout handles POST /api/v1/auth/logout. All of the coder's review
// sessions and unsaved state are dropped.
func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	username := auth.UsernameFromContext(ctx)
	h.store.DeleteUser(username)
	h.svc.DropUser(username)
	h.logger.Info().Str("username", username).Msg("coder logged out")
	return c.NoContent(http.StatusNoContent)
}

// ListProjects handles GET /api/v1/projects with standard pagination
// parameters.
func (h *Handler) ListProjects(c echo.Context) error {
	ctx := c.Request().Context()
	projects, err := h.projects.FetchProjects(ctx, auth.UpstreamTokenFromContext(ctx))
	if err != nil {
		return h.mapError(c, err)
	}
	params := pagination.FromContext(c)
	page, total := pagination.Page(projects, params)
	return c.JSON(http.StatusOK, pagination.NewResponse(page, total, params))
}

type viewReply struct {
	View         *View         `json:"view"`
	Notification *Notification `json:"notification,omitempty"`
}

// GetCodes handles GET /api/v1/review/:docID/codes.
func (h *Handler) GetCodes(c echo.Context) error {
	ctx := c.Request().Context()
	view, err := h.svc.LoadDocument(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, viewReply{View: view})
}

type decisionBody struct {
	Action string `json:"action"`
}

// Decide handles POST /api/v1/review/:docID/codes/:code/decision.
func (h *Handler) Decide(c echo.Context) error {
	var body decisionBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	action, err := codes.ParseAction(body.Action)
	if err != nil {
		return h.mapError(c, err)
	}

	ctx := c.Request().Context()
	view, note, err := h.svc.Decide(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), c.Param("code"), action)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, viewReply{View: view, Notification: &note})
}

// AddCode handles POST /api/v1/review/:docID/codes.
func (h *Handler) AddCode(c echo.Context) error {
	var in AddCodeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	view, note, err := h.svc.AddCode(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), in)
	if err != nil {
		return h.mapError(c, err)
	}
	status := http.StatusCreated
	if note.Kind != NoteSuccess {
		status = http.StatusOK
	}
	return c.JSON(status, viewReply{View: view, Notification: &note})
}

// DeleteCode handles DELETE /api/v1/review/:docID/codes/:code.
func (h *Handler) DeleteCode(c echo.Context) error {
	ctx := c.Request().Context()
	view, note, err := h.svc.DeleteCode(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), c.Param("code"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, viewReply{View: view, Notification: &note})
}

type commentBody struct {
	Text string `json:"text"`
}

// AddComment handles POST /api/v1/review/:docID/codes/:code/comments.
func (h *Handler) AddComment(c echo.Context) error {
	var body commentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	view, note, err := h.svc.AddComment(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), c.Param("code"), body.Text)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, viewReply{View: view, Notification: &note})
}

// Reorder handles POST /api/v1/review/:docID/reorder. The move is applied
// locally; nothing is persisted until Save.
func (h *Handler) Reorder(c echo.Context) error {
	var mv codes.Move
	if err := c.Bind(&mv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	view, err := h.svc.Reorder(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), mv)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, viewReply{View: view})
}

type captureReply struct {
	*CaptureState
	Notification *Notification `json:"notification,omitempty"`
}

// CaptureArm handles POST /api/v1/review/:docID/capture/arm.
func (h *Handler) CaptureArm(c echo.Context) error {
	ctx := c.Request().Context()
	state, err := h.svc.CaptureArm(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, captureReply{CaptureState: state})
}

// CaptureDisarm handles POST /api/v1/review/:docID/capture/disarm.
func (h *Handler) CaptureDisarm(c echo.Context) error {
	ctx := c.Request().Context()
	state, err := h.svc.CaptureDisarm(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, captureReply{CaptureState: state})
}

// CapturePointer handles POST /api/v1/review/:docID/capture/pointer.
func (h *Handler) CapturePointer(c echo.Context) error {
	var ev CaptureEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	state, note, err := h.svc.CapturePointer(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), ev)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, captureReply{CaptureState: state, Notification: note})
}

// CaptureOpenForm handles POST /api/v1/review/:docID/capture/form.
func (h *Handler) CaptureOpenForm(c echo.Context) error {
	ctx := c.Request().Context()
	state, err := h.svc.CaptureOpenForm(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, captureReply{CaptureState: state})
}

// CaptureCancel handles POST /api/v1/review/:docID/capture/cancel.
func (h *Handler) CaptureCancel(c echo.Context) error {
	ctx := c.Request().Context()
	state, err := h.svc.CaptureCancel(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, captureReply{CaptureState: state})
}

// Save handles POST /api/v1/review/:docID/save.
func (h *Handler) Save(c echo.Context) error {
	ctx := c.Request().Context()
	view, note, err := h.svc.Save(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, viewReply{View: view, Notification: &note})
}

type leaveBody struct {
	Mode string `json:"mode"`
}

// Leave handles POST /api/v1/review/:docID/leave: the three-way resolution
// of the unsaved-changes prompt.
func (h *Handler) Leave(c echo.Context) error {
	var body leaveBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	result, err := h.svc.Leave(ctx, auth.UpstreamTokenFromContext(ctx), auth.UsernameFromContext(ctx), c.Param("docID"), LeaveMode(body.Mode))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// Files handles GET /api/v1/review/:docID/files.
func (h *Handler) Files(c echo.Context) error {
	ctx := c.Request().Context()
	files, err := h.svc.Files(ctx, auth.UpstreamTokenFromContext(ctx), c.Param("docID"))
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, files)
}

// mapError translates domain and upstream failures into HTTP responses. An
// upstream auth expiry tears down everything the coder holds so the next
// request forces a fresh login.
func (h *Handler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, backend.ErrAuthExpired):
		username := auth.UsernameFromContext(c.Request().Context())
		h.store.DeleteUser(username)
		h.svc.DropUser(username)
		h.logger.Warn().Str("username", username).Msg("upstream session expired, coder logged out")
		return echo.NewHTTPError(http.StatusUnauthorized, "session expired, please log in again")
	case errors.Is(err, codes.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, codes.ErrCodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, codes.ErrNothingToUndo):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, codes.ErrRejectedImmutable),
		errors.Is(err, codes.ErrDragActive),
		errors.Is(err, codes.ErrNotArmed),
		errors.Is(err, codes.ErrDrawPhase),
		errors.Is(err, ErrOpInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrRemote):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream coding service unavailable")
	default:
		h.logger.Error().Err(err).Msg("unhandled error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
