package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The embedded tutor console: a single page that speaks the websocket
// protocol, plays each reply's WAV blob, and shows vocabulary pictures.
//
//go:embed static/*
var tutorUI embed.FS

func tutorUIHandler() http.Handler {
	sub, err := fs.Sub(tutorUI, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
