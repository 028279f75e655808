//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// MountSwagger serves the generated API docs under /swagger/. The docs
// package registers itself with swag when linked into the binary.
func MountSwagger(r chi.Router) {
	if _, err := swag.ReadDoc(); err != nil {
		zlog.Warn().Err(err).Msg("swagger docs not registered; run swag init")
		return
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
