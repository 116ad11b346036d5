// Package web serves the embedded single-page todo assistant: a chat
// pane that talks to POST /chat and a sidebar listing GET /todos.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

// Handler returns an http.Handler that serves the UI. The directory
// path "/" serves index.html.
func Handler() http.Handler {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}

// RegisterRoutes mounts the UI at "GET /" and its assets under
// "GET /static/".
func RegisterRoutes(mux *http.ServeMux) {
	h := Handler()
	mux.Handle("GET /{$}", h)
	mux.Handle("GET /static/", http.StripPrefix("/static", h))
}
