package submission

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/typeloader/typeloader/internal/platform/apperr"
	"github.com/typeloader/typeloader/internal/platform/auth"
	"github.com/typeloader/typeloader/internal/platform/report"
	"github.com/typeloader/typeloader/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the submission endpoints.
//
//	GET  /api/v1/submissions              - history, newest first
//	GET  /api/v1/submissions/:id          - one batch with transitions and outcome
//	POST /api/v1/submissions/:id/validate - run the validation phase
//	POST /api/v1/submissions/:id/submit   - run the submission phase
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleViewer, auth.RoleCurator))
	read.GET("/submissions", h.List)
	read.GET("/submissions/:id", h.Get)

	write := api.Group("", auth.RequireRole(auth.RoleCurator))
	write.POST("/submissions/:id/validate", h.Validate)
	write.POST("/submissions/:id/submit", h.Submit)
}

// LongRunningPaths are the routes that wait for the external tool and must
// not run under the generic request timeout.
var LongRunningPaths = []string{
	"/api/v1/submissions/:id/validate",
	"/api/v1/submissions/:id/submit",
}

func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	batches, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(batches, total, p.Limit, p.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return runError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Validate(c echo.Context) error {
	return h.runPhase(c, h.svc.Validate)
}

func (h *Handler) Submit(c echo.Context) error {
	return h.runPhase(c, h.svc.Submit)
}

type runResponse struct {
	Batch   *Batch `json:"batch"`
	Report  string `json:"report"`
	Success bool   `json:"success"`
}

type phaseFunc func(context.Context, uuid.UUID) (*Batch, *report.Outcome, error)

func (h *Handler) runPhase(c echo.Context, phase phaseFunc) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, outcome, err := phase(c.Request().Context(), id)
	if err != nil {
		return runError(c, err)
	}
	// A rejection is a regular answer: the report names the samples to fix.
	return c.JSON(http.StatusOK, runResponse{
		Batch:   b,
		Report:  outcome.Render(),
		Success: outcome.Success,
	})
}

// runError maps pipeline errors to HTTP answers.
func runError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	var te *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &te):
		status = http.StatusConflict
	default:
		switch apperr.KindOf(err) {
		case apperr.KindTimeout:
			status = http.StatusGatewayTimeout
		case apperr.KindToolInvocation:
			status = http.StatusBadGateway
		}
	}
	title, msg := apperr.Classify(err)
	return c.JSON(status, map[string]string{
		"error":  title,
		"detail": msg,
	})
}
