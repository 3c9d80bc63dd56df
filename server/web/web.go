// Package web serves the embedded single-page chat client.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var assets embed.FS

// Handler serves the chat UI at / and its assets below it.
func Handler() http.Handler {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
