package handlers

import (
	"net/http"

	"github.com/carevox/carevox/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, core.NewNotFoundError("route", r.URL.Path))
}
