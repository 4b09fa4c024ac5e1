// Package mesh exposes mesh generation backends behind one polling-shaped
// contract: submit returns a job id, status checks eventually report a
// terminal state.
package mesh

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itera/internal/domain"
	"itera/internal/jobstore"
	"itera/internal/storage"
)

// Backend names a mesh generation backend.
type Backend string

const (
	BackendMock        Backend = "mock"
	BackendHuggingFace Backend = "huggingface"
	BackendMeshy       Backend = "meshy"
)

// ParseBackend validates a configured backend name.
func ParseBackend(raw string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(raw))); b {
	case BackendMock, BackendHuggingFace, BackendMeshy:
		return b, nil
	case "":
		return BackendMock, nil
	}
	return "", fmt.Errorf("%w %q for MESH_PROVIDER", domain.ErrUnknownProvider, raw)
}

// Provider is implemented by every mesh backend.
//
// CheckStatus reports unknown job ids as failed rather than returning an
// error; the error return is reserved for infrastructure faults such as an
// unreachable job store or vendor.
type Provider interface {
	Name() string
	GenerateMesh(ctx context.Context, req domain.MeshRequest) (string, error)
	CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error)
}

// Deps carries everything New may need to build a backend.
type Deps struct {
	Jobs       jobstore.Store
	Blobs      *storage.FileStore
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Now        func() time.Time

	MockDuration time.Duration

	MeshyAPIKey  string
	MeshyBaseURL string

	HFEndpoint string
	HFToken    string
	HFTimeout  time.Duration
	// AssetURLPrefix is the public path under which Blobs is served.
	AssetURLPrefix string
}

// defaultHTTPTimeout bounds Meshy calls. HuggingFace inference is bounded by
// HFTimeout instead.
const defaultHTTPTimeout = 60 * time.Second

// New resolves backend once at startup. A vendor backend without its
// credential degrades to the mock backend.
func New(backend Backend, deps Deps) (Provider, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	switch backend {
	case BackendMock:
		return newMockFromDeps(deps)
	case BackendMeshy:
		if strings.TrimSpace(deps.MeshyAPIKey) == "" {
			deps.Logger.Warn().Str("provider", string(backend)).Str("reason", "missing_credentials").Msg("mesh backend degraded to mock")
			return newMockFromDeps(deps)
		}
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: defaultHTTPTimeout}
		}
		return NewMeshy(MeshyOptions{
			APIKey:     deps.MeshyAPIKey,
			BaseURL:    deps.MeshyBaseURL,
			HTTPClient: client,
		}), nil
	case BackendHuggingFace:
		if strings.TrimSpace(deps.HFEndpoint) == "" || strings.TrimSpace(deps.HFToken) == "" {
			deps.Logger.Warn().Str("provider", string(backend)).Str("reason", "missing_credentials").Msg("mesh backend degraded to mock")
			return newMockFromDeps(deps)
		}
		if deps.Jobs == nil || deps.Blobs == nil {
			return nil, fmt.Errorf("huggingface mesh backend needs a job store and a blob store")
		}
		return NewHuggingFace(HuggingFaceOptions{
			Endpoint:       deps.HFEndpoint,
			Token:          deps.HFToken,
			Timeout:        deps.HFTimeout,
			Jobs:           deps.Jobs,
			Blobs:          deps.Blobs,
			HTTPClient:     deps.HTTPClient,
			Logger:         deps.Logger,
			Now:            deps.Now,
			AssetURLPrefix: deps.AssetURLPrefix,
		}), nil
	}
	return nil, fmt.Errorf("%w %q for MESH_PROVIDER", domain.ErrUnknownProvider, backend)
}

func newMockFromDeps(deps Deps) (Provider, error) {
	if deps.Jobs == nil {
		return nil, fmt.Errorf("mock mesh backend needs a job store")
	}
	return NewMock(deps.Jobs, MockOptions{Duration: deps.MockDuration, Now: deps.Now}), nil
}

func validateRequest(req domain.MeshRequest) error {
	if strings.TrimSpace(req.Image) == "" && strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: either 'image' (base64) or 'prompt' (text) is required", domain.ErrInvalidInput)
	}
	if req.Format != "" && !req.Format.Requestable() {
		return fmt.Errorf("%w: format %q cannot be requested", domain.ErrInvalidInput, req.Format)
	}
	return nil
}

// reportFromRecord synthesizes a status report from a stored record.
func reportFromRecord(rec jobstore.Record) domain.StatusReport {
	switch rec.Status {
	case domain.JobStatusComplete:
		return domain.StatusReport{Status: domain.JobStatusComplete, Progress: domain.IntPtr(100), Result: rec.Result}
	case domain.JobStatusFailed:
		msg := rec.Error
		if msg == "" {
			msg = "Mesh generation failed"
		}
		return domain.FailedReport(msg)
	}
	return domain.StatusReport{Status: rec.Status, Progress: domain.IntPtr(rec.Progress)}
}

const jobNotFound = "Job not found"
