package fasta

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the sequence checks over HTTP.
type Handler struct{}

// NewHandler creates a new sequence check handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers the sequence check endpoints.
//
//	POST /api/v1/sequences/check - validate a raw FASTA upload
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/sequences/check", h.Check)
}

type checkedRecord struct {
	Header   Header    `json:"header"`
	Length   int       `json:"length"`
	OK       bool      `json:"ok"`
	Problems []Problem `json:"problems,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Check handles POST /api/v1/sequences/check. Composition problems do not
// fail the request; they are reported per record.
func (h *Handler) Check(c echo.Context) error {
	recs, err := ReadRecords(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
		})
	}

	out := make([]checkedRecord, 0, len(recs))
	for _, r := range recs {
		cr := checkedRecord{
			Header: ParseHeader(r.Header()),
			Length: len(r.Sequence),
			OK:     true,
		}
		if err := SanityCheck(r.Sequence); err != nil {
			cr.OK = false
			cr.Problems = err.(*NonATGCError).Problems
			cr.Message = err.Error()
		}
		out = append(out, cr)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"records": out,
	})
}
