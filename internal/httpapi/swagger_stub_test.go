//go:build !swagger

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMountSwagger_NoOp(t *testing.T) {
	r := chi.NewRouter()
	MountSwagger(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger must not be served without the tag, got %d", w.Code)
	}
}
