package root

import (
	"net/http"

	"github.com/go-chi/render"
)

type Response struct {
	Message string `json:"message"`
	Version string `json:"version"`
	DocsURL string `json:"docs_url,omitempty"`
}

func New(version, docsURL string) http.HandlerFunc {
	body := Response{
		Message: "Welcome to Msat Manager API!",
		Version: version,
		DocsURL: docsURL,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, body)
	}
}
