package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type routeHandler struct {
	path string
}

func (h *routeHandler) Register(e *echo.Echo) {
	e.GET(h.path, func(c echo.Context) error {
		return c.String(http.StatusOK, h.path)
	})
}

func TestNewRegistersHandlers(t *testing.T) {
	t.Parallel()

	srv := New(slog.New(slog.DiscardHandler), ":0", []Handler{
		&routeHandler{path: "/a"},
		nil,
		&routeHandler{path: "/b"},
	})

	for _, path := range []string{"/a", "/b"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.echo.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("route %s not registered: %d", path, rec.Code)
		}
	}
}

func TestNewDefaultsAddr(t *testing.T) {
	t.Parallel()

	srv := New(slog.New(slog.DiscardHandler), "", nil)
	if srv.addr != ":8080" {
		t.Fatalf("unexpected default addr: %q", srv.addr)
	}
}
