package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestRequestIDPassthrough(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got := rec.Header().Get(requestIDHeader); got != "req-123" {
		t.Errorf("response header: got %q, want req-123", got)
	}
	if got, _ := c.Get("request_id").(string); got != "req-123" {
		t.Errorf("context value: got %q, want req-123", got)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	h := RequestID()(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}

	id := rec.Header().Get(requestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated id %q is not a uuid: %v", id, err)
	}
	if got, _ := c.Get("request_id").(string); got != id {
		t.Errorf("context id %q does not match header %q", got, id)
	}
}
