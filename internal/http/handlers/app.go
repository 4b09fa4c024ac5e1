package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"itera/internal/domain"
	"itera/internal/metrics"
	"itera/internal/service"
	"itera/internal/storage"
)

// maxBodyBytes bounds request bodies; base64 photos are the largest payload.
const maxBodyBytes = 25 << 20

const defaultProxyTimeout = 60 * time.Second

type Options struct {
	Service     *service.Service
	Blobs       *storage.FileStore
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	ProxyClient *http.Client
	// ProxyHosts restricts /proxy targets; empty allows any public host.
	ProxyHosts []string
	// ProxyAllowPrivate lets /proxy reach loopback and private networks,
	// for development against local upstreams.
	ProxyAllowPrivate bool
}

type App struct {
	Service           *service.Service
	Blobs             *storage.FileStore
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
	ProxyClient       *http.Client
	ProxyHosts        []string
	ProxyAllowPrivate bool
}

func NewApp(opts Options) *App {
	client := opts.ProxyClient
	if client == nil {
		client = newProxyClient(opts.ProxyAllowPrivate)
	}
	return &App{
		Service:           opts.Service,
		Blobs:             opts.Blobs,
		Metrics:           opts.Metrics,
		Logger:            opts.Logger,
		ProxyClient:       client,
		ProxyHosts:        opts.ProxyHosts,
		ProxyAllowPrivate: opts.ProxyAllowPrivate,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: message, Code: code})
}

// fail maps a service error onto a status code.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			a.error(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			a.error(w, http.StatusBadRequest, "bad_request", "request body is required")
		default:
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		}
		return false
	}
	return true
}
