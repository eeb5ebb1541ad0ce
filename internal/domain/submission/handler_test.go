package submission

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/typeloader/typeloader/internal/platform/webin"
)

func newTestHandler(t *testing.T, runner *fakeRunner) (*Handler, *fixture, *echo.Echo) {
	t.Helper()
	f := newFixture(t, runner)
	return NewHandler(f.svc), f, echo.New()
}

func idContext(e *echo.Echo, method, id string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) runResponse {
	t.Helper()
	var resp runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
	}
	return resp
}

// =========== List / Get ===========

func TestHandler_List(t *testing.T) {
	h, f, e := newTestHandler(t, &fakeRunner{})
	f.prepare(t, "A")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/submissions?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Data  []Batch `json:"data"`
		Total int     `json:"total"`
		Limit int     `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || len(body.Data) != 1 || body.Limit != 1 {
		t.Errorf("unexpected page %+v", body)
	}
	if body.Data[0].Alias != testAlias {
		t.Errorf("unexpected alias %q", body.Data[0].Alias)
	}
}

func TestHandler_Get(t *testing.T) {
	h, f, e := newTestHandler(t, &fakeRunner{})
	b := f.prepare(t, "A")

	c, rec := idContext(e, http.MethodGet, b.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"built"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, _, e := newTestHandler(t, &fakeRunner{})

	c, rec := idContext(e, http.MethodGet, uuid.New().String())
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	h, _, e := newTestHandler(t, &fakeRunner{})

	for name, fn := range map[string]echo.HandlerFunc{"get": h.Get, "validate": h.Validate, "submit": h.Submit} {
		t.Run(name, func(t *testing.T) {
			c, _ := idContext(e, http.MethodPost, "not-a-uuid")
			err := fn(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %v", err)
			}
		})
	}
}

// =========== Validate / Submit ===========

func TestHandler_ValidateThenSubmit(t *testing.T) {
	runner := &fakeRunner{out: webin.Output{Stdout: validatedOutput}}
	h, f, e := newTestHandler(t, runner)
	b := f.prepare(t, "A")

	c, rec := idContext(e, http.MethodPost, b.ID.String())
	if err := h.Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeRun(t, rec)
	if !resp.Success || resp.Batch.State != StateValid {
		t.Errorf("unexpected validate response %+v", resp)
	}

	runner.out = webin.Output{Stdout: submittedOutput}
	c, rec = idContext(e, http.MethodPost, b.ID.String())
	if err := h.Submit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp = decodeRun(t, rec)
	if !resp.Success || resp.Batch.State != StateSubmitted || resp.Batch.ExternalID != "ERZ0001" {
		t.Errorf("unexpected submit response %+v", resp)
	}
	if !strings.Contains(resp.Report, "ERZ0001") {
		t.Errorf("report lacks the accession: %q", resp.Report)
	}
}

func TestHandler_ValidateRejectedIsOK(t *testing.T) {
	h, f, e := newTestHandler(t, &fakeRunner{out: webin.Output{Stdout: rejectedOutput}})
	b := f.prepare(t, "A")

	c, rec := idContext(e, http.MethodPost, b.ID.String())
	if err := h.Validate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	resp := decodeRun(t, rec)
	if resp.Success || resp.Batch.State != StateInvalid {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.HasPrefix(resp.Report, headlineValidate) {
		t.Errorf("report should open with the headline, got %q", resp.Report)
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
		phase  func(h *Handler) echo.HandlerFunc
		want   int
	}{
		{"submit before validate", &fakeRunner{}, func(h *Handler) echo.HandlerFunc { return h.Submit }, http.StatusConflict},
		{"tool failure", &fakeRunner{out: webin.Output{ExitCode: 1}}, func(h *Handler) echo.HandlerFunc { return h.Validate }, http.StatusBadGateway},
		{"no java", &fakeRunner{javaErr: errors.New("not found")}, func(h *Handler) echo.HandlerFunc { return h.Validate }, http.StatusBadGateway},
		{"timeout", &fakeRunner{block: true}, func(h *Handler) echo.HandlerFunc { return h.Validate }, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, f, e := newTestHandler(t, tt.runner)
			f.orch.timeout = 20 * time.Millisecond
			b := f.prepare(t, "A")

			c, rec := idContext(e, http.MethodPost, b.ID.String())
			if err := tt.phase(h)(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["error"] == "" {
				t.Errorf("error body lacks a title: %v", body)
			}
		})
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler(t, &fakeRunner{})
	h.RegisterRoutes(e.Group("/api/v1"))

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/submissions",
		"GET /api/v1/submissions/:id",
		"POST " + LongRunningPaths[0],
		"POST " + LongRunningPaths[1],
	} {
		if !registered[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}
