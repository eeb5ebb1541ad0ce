package embl

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// Handler exposes the flat-file parser over HTTP.
type Handler struct{}

// NewHandler creates a new flat-file handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers the flat-file endpoints on the provided group.
//
//	POST /api/v1/flatfiles/parse - parse one record, report completeness
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/flatfiles/parse", h.Parse)
}

type parseResponse struct {
	Record       *AnnotatedSequence `json:"record"`
	CDS          string             `json:"cds"`
	Completeness apperr.Result      `json:"completeness"`
}

// Parse handles POST /api/v1/flatfiles/parse.
func (h *Handler) Parse(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}
	if len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body is empty",
		})
	}

	rec, err := ParseRecord(string(body))
	if err != nil {
		title, msg := apperr.Classify(err)
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error":  msg,
			"kind":   string(apperr.KindOf(err)),
			"reason": title,
		})
	}

	return c.JSON(http.StatusOK, parseResponse{
		Record:       rec,
		CDS:          rec.CDS(),
		Completeness: CheckCompleteness(rec),
	})
}
