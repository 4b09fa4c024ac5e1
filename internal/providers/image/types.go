package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"itera/internal/domain"
)

// Backend names an image generation backend.
type Backend string

const (
	BackendMock        Backend = "mock"
	BackendHuggingFace Backend = "huggingface"
	BackendOpenAI      Backend = "openai"
)

// ParseBackend validates a configured backend name.
func ParseBackend(raw string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(raw))); b {
	case BackendMock, BackendHuggingFace, BackendOpenAI:
		return b, nil
	case "":
		return BackendMock, nil
	}
	return "", fmt.Errorf("%w %q for IMAGE_PROVIDER", domain.ErrUnknownProvider, raw)
}

// Generator turns a prompt into an image returned as a data URL. It either
// returns a usable image or an error, never a partial result.
type Generator interface {
	Name() string
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// credentialed is implemented by vendor generators that need a credential.
type credentialed interface {
	Generator
	HasCredentials() bool
}

// Options configures New.
type Options struct {
	HFToken       string
	HFModel       string
	HFBaseURL     string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	HTTPClient    *http.Client
	// OnFallback is told when a vendor backend degrades to the placeholder.
	OnFallback func(provider, reason string)
}

const defaultHTTPTimeout = 90 * time.Second

// New resolves a backend into a Generator. Vendor backends missing their
// credential serve the mock placeholder instead of failing.
func New(backend Backend, opts Options) (Generator, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	mock := NewMock()
	switch backend {
	case BackendMock:
		return mock, nil
	case BackendHuggingFace:
		hf := NewHuggingFace(HuggingFaceOptions{
			Token:      opts.HFToken,
			Model:      opts.HFModel,
			BaseURL:    opts.HFBaseURL,
			HTTPClient: client,
		})
		return WithFallback(hf, mock, opts.OnFallback), nil
	case BackendOpenAI:
		oa := NewOpenAI(OpenAIOptions{
			APIKey:     opts.OpenAIAPIKey,
			BaseURL:    opts.OpenAIBaseURL,
			Model:      opts.OpenAIModel,
			HTTPClient: client,
		})
		return WithFallback(oa, mock, opts.OnFallback), nil
	}
	return nil, fmt.Errorf("%w %q for IMAGE_PROVIDER", domain.ErrUnknownProvider, backend)
}
