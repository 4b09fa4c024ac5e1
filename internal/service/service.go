// Package service validates requests at the API boundary and forwards them to
// the providers resolved at startup.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itera/internal/domain"
	"itera/internal/metrics"
	"itera/internal/providers/image"
	"itera/internal/providers/mesh"
	"itera/internal/providers/prompt"
)

// ExportTTL is how long an export link is advertised as valid.
const ExportTTL = time.Hour

const (
	capabilityBrief = "brief"
	capabilityMerge = "merge"
	capabilityImage = "image"
	capabilityMesh  = "mesh"
	capabilityPoll  = "mesh_status"
)

type Options struct {
	Briefer prompt.Briefer
	Images  image.Generator
	Meshes  mesh.Provider
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

type Service struct {
	briefer prompt.Briefer
	images  image.Generator
	meshes  mesh.Provider
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func New(opts Options) *Service {
	if opts.Briefer == nil {
		opts.Briefer = prompt.NewStatic()
	}
	if opts.Images == nil {
		opts.Images = image.NewMock()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		briefer: opts.Briefer,
		images:  opts.Images,
		meshes:  opts.Meshes,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// MeshProviderName is the name of the configured mesh backend.
func (s *Service) MeshProviderName() string {
	if s.meshes == nil {
		return ""
	}
	return s.meshes.Name()
}

type BriefInput struct {
	Image  string
	Prompt string
	Locale string
}

// Brief returns a design brief. Vendor trouble is absorbed by the briefer;
// only a request with neither image nor prompt fails.
func (s *Service) Brief(ctx context.Context, in BriefInput) (string, error) {
	img := strings.TrimSpace(in.Image)
	text := strings.TrimSpace(in.Prompt)
	if img == "" && text == "" {
		return "", fmt.Errorf("%w: image or prompt is required", domain.ErrInvalidInput)
	}
	started := time.Now()
	res := s.briefer.Brief(ctx, prompt.BriefRequest{Image: img, Prompt: in.Prompt, Locale: in.Locale})
	s.metrics.ObserveProviderCall(capabilityBrief, res.Provider, started, nil)
	if res.FallbackReason != "" {
		s.fallback(ctx, capabilityBrief, res.FallbackReason)
	}
	return res.Brief, nil
}

type MergeInput struct {
	Description *string
	Instruction string
	Locale      string
}

// MergePrompt folds an edit instruction into the current description.
func (s *Service) MergePrompt(ctx context.Context, in MergeInput) (string, error) {
	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		return "", fmt.Errorf("%w: instruction is required", domain.ErrInvalidInput)
	}
	started := time.Now()
	res := s.briefer.Merge(ctx, prompt.MergeRequest{
		Description: in.Description,
		Instruction: instruction,
		Locale:      in.Locale,
	})
	s.metrics.ObserveProviderCall(capabilityMerge, res.Provider, started, nil)
	if res.FallbackReason != "" {
		s.fallback(ctx, capabilityMerge, res.FallbackReason)
	}
	return res.NewPrompt, nil
}

func (s *Service) fallback(ctx context.Context, operation, reason string) {
	s.metrics.PromptFallback(operation, reason)
	s.log(ctx).Warn().Str("operation", operation).Str("reason", reason).Msg("prompt fallback used")
}

// GenerateImage returns a data URL for prompt.
func (s *Service) GenerateImage(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: prompt is required", domain.ErrInvalidInput)
	}
	started := time.Now()
	url, err := s.images.GenerateImage(ctx, text)
	s.metrics.ObserveProviderCall(capabilityImage, s.images.Name(), started, err)
	if err != nil {
		s.log(ctx).Error().Err(err).Str("provider", s.images.Name()).Msg("image generation failed")
		return "", err
	}
	return url, nil
}

// GenerateMesh submits a mesh job. The image drives generation when both
// inputs are present.
func (s *Service) GenerateMesh(ctx context.Context, req domain.MeshRequest) (domain.Submission, error) {
	req.Image = strings.TrimSpace(req.Image)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Image == "" && req.Prompt == "" {
		return domain.Submission{}, fmt.Errorf("%w: image or prompt is required", domain.ErrInvalidInput)
	}
	if req.Format != "" && !req.Format.Requestable() {
		return domain.Submission{}, fmt.Errorf("%w: format %q cannot be requested", domain.ErrInvalidInput, req.Format)
	}
	if s.meshes == nil {
		return domain.Submission{}, fmt.Errorf("%w: no mesh provider configured", domain.ErrProviderFailure)
	}
	started := time.Now()
	jobID, err := s.meshes.GenerateMesh(ctx, req)
	s.metrics.ObserveProviderCall(capabilityMesh, s.meshes.Name(), started, err)
	if err != nil {
		s.log(ctx).Error().Err(err).Str("provider", s.meshes.Name()).Msg("mesh submission failed")
		return domain.Submission{}, err
	}
	s.metrics.MeshJobSubmitted(s.meshes.Name())
	s.log(ctx).Info().Str("provider", s.meshes.Name()).Str("job_id", jobID).Msg("mesh job submitted")
	return domain.Submission{JobID: jobID, Provider: s.meshes.Name()}, nil
}

// CheckStatus reports the state of a mesh job. Unknown ids come back as a
// failed report.
func (s *Service) CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return domain.StatusReport{}, fmt.Errorf("%w: job id is required", domain.ErrInvalidInput)
	}
	if s.meshes == nil {
		return domain.StatusReport{}, fmt.Errorf("%w: no mesh provider configured", domain.ErrProviderFailure)
	}
	started := time.Now()
	report, err := s.meshes.CheckStatus(ctx, jobID)
	s.metrics.ObserveProviderCall(capabilityPoll, s.meshes.Name(), started, err)
	if err != nil {
		s.log(ctx).Error().Err(err).Str("job_id", jobID).Msg("status check failed")
		return domain.StatusReport{}, err
	}
	return report, nil
}

type ExportResult struct {
	DownloadURL string            `json:"downloadUrl"`
	Format      domain.MeshFormat `json:"format"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Export hands back the model URL as a download link. Format defaults to glb.
func (s *Service) Export(_ context.Context, modelURL, format string) (ExportResult, error) {
	modelURL = strings.TrimSpace(modelURL)
	if modelURL == "" {
		return ExportResult{}, fmt.Errorf("%w: modelUrl is required", domain.ErrInvalidInput)
	}
	f, err := domain.ParseMeshFormat(format)
	if err != nil {
		return ExportResult{}, err
	}
	if f == "" {
		f = domain.MeshFormatGLB
	}
	return ExportResult{
		DownloadURL: modelURL,
		Format:      f,
		ExpiresAt:   s.now().Add(ExportTTL).UTC(),
	}, nil
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}
