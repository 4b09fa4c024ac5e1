package handlers

import (
	"bytes"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"itera/internal/domain"
)

//go:embed samples
var samples embed.FS

var meshContentTypes = map[string]string{
	".obj":  "text/plain; charset=utf-8",
	".mtl":  "text/plain; charset=utf-8",
	".glb":  "model/gltf-binary",
	".gltf": "model/gltf+json",
	".stl":  "model/stl",
	".fbx":  "application/octet-stream",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// Assets serves files written to the blob store, such as extracted meshes.
func (a *App) Assets(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	data, err := a.Blobs.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			a.error(w, http.StatusNotFound, "not_found", "asset not found")
			return
		}
		a.fail(w, r, err)
		return
	}
	serveBytes(w, r, key, data)
}

// Samples serves the embedded meshes returned by the mock backend.
func (a *App) Samples(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + chi.URLParam(r, "*"))
	data, err := fs.ReadFile(samples, "samples"+name)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "sample not found")
		return
	}
	serveBytes(w, r, name, data)
}

func serveBytes(w http.ResponseWriter, r *http.Request, name string, data []byte) {
	if ct, ok := meshContentTypes[strings.ToLower(path.Ext(name))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, path.Base(name), time.Time{}, bytes.NewReader(data))
}
