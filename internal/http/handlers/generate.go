package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"itera/internal/domain"
)

type generateRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
}

func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}
	format, err := domain.ParseMeshFormat(req.Format)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sub, err := a.Service.GenerateMesh(r.Context(), domain.MeshRequest{
		Image:  req.Image,
		Prompt: req.Prompt,
		Format: format,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, sub)
}

func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	report, err := a.Service.CheckStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, report)
}

type imageGenerateRequest struct {
	Prompt string `json:"prompt"`
}

type imageGenerateResponse struct {
	ImageDataURL string `json:"imageDataUrl"`
}

func (a *App) ImageGenerate(w http.ResponseWriter, r *http.Request) {
	var req imageGenerateRequest
	if !a.decode(w, r, &req) {
		return
	}
	url, err := a.Service.GenerateImage(r.Context(), req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, imageGenerateResponse{ImageDataURL: url})
}

type exportRequest struct {
	ModelURL string `json:"modelUrl"`
	Format   string `json:"format"`
}

func (a *App) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.Service.Export(r.Context(), req.ModelURL, req.Format)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}
