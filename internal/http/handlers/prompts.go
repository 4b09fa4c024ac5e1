package handlers

import (
	"net/http"

	"itera/internal/middleware"
	"itera/internal/service"
)

type briefRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

type briefResponse struct {
	Brief string `json:"brief"`
}

func (a *App) Brief(w http.ResponseWriter, r *http.Request) {
	var req briefRequest
	if !a.decode(w, r, &req) {
		return
	}
	brief, err := a.Service.Brief(r.Context(), service.BriefInput{
		Image:  req.Image,
		Prompt: req.Prompt,
		Locale: middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, briefResponse{Brief: brief})
}

type editRequest struct {
	Description *string `json:"description"`
	Instruction string  `json:"instruction"`
}

type editResponse struct {
	NewPrompt string `json:"newPrompt"`
}

func (a *App) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !a.decode(w, r, &req) {
		return
	}
	newPrompt, err := a.Service.MergePrompt(r.Context(), service.MergeInput{
		Description: req.Description,
		Instruction: req.Instruction,
		Locale:      middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, editResponse{NewPrompt: newPrompt})
}
