// Package pipeline drives a generation or edit request through brief,
// image and mesh synthesis, polls the mesh job to a terminal state and
// commits the result to the project store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"itera/internal/domain"
	"itera/internal/pipeline/stage"
	"itera/internal/project"
	"itera/internal/providers/prompt"
	"itera/pkg/dataurl"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultProxyPath    = "/proxy"
)

const meshFailedMessage = "Mesh generation failed"

// Observer receives transient progress. Both callbacks are optional.
type Observer struct {
	OnStage   func(s stage.Stage)
	OnMessage func(m project.Message)
}

type Options struct {
	Backend Backend
	Store   *project.Store
	// PollInterval defaults to 500ms.
	PollInterval time.Duration
	// PollTimeout bounds the wait for a terminal job status. Zero waits
	// until the context is done.
	PollTimeout time.Duration
	// ProxyPath is prefixed to absolute mesh URLs.
	ProxyPath string
	Observer  Observer
	Logger    zerolog.Logger
}

type Orchestrator struct {
	backend      Backend
	store        *project.Store
	pollInterval time.Duration
	pollTimeout  time.Duration
	proxyPath    string
	observer     Observer
	logger       zerolog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ProxyPath == "" {
		opts.ProxyPath = DefaultProxyPath
	}
	return &Orchestrator{
		backend:      opts.Backend,
		store:        opts.Store,
		pollInterval: opts.PollInterval,
		pollTimeout:  opts.PollTimeout,
		proxyPath:    opts.ProxyPath,
		observer:     opts.Observer,
		logger:       opts.Logger,
	}
}

// GenerateInput starts a project from a photo, a text prompt, or both.
// Image may be a data URL or bare base64.
type GenerateInput struct {
	Image  string
	Prompt string
	Format domain.MeshFormat
}

// Outcome describes the model committed by a successful flow.
type Outcome struct {
	JobID        string
	ModelURL     string
	MaterialURL  string
	Format       domain.MeshFormat
	Description  *string
	ImageDataURL string
}

// Generate runs the initial generation flow. On failure the active stage is
// reported as failed and no model or synthesized image is committed.
func (o *Orchestrator) Generate(ctx context.Context, in GenerateInput) (Outcome, error) {
	image := strings.TrimSpace(in.Image)
	text := strings.TrimSpace(in.Prompt)
	if image == "" && text == "" {
		return Outcome{}, fmt.Errorf("%w: image or prompt is required", domain.ErrInvalidInput)
	}
	if err := o.store.BeginProcessing(); err != nil {
		return Outcome{}, err
	}
	defer o.store.EndProcessing()

	run := &generateRun{o: o}
	out, err := run.do(ctx, image, text, in.Format)
	if err != nil {
		run.fail(ctx)
		return Outcome{}, err
	}
	return out, nil
}

type generateRun struct {
	o       *Orchestrator
	current stage.Stage
}

func (r *generateRun) do(ctx context.Context, image, text string, format domain.MeshFormat) (Outcome, error) {
	o := r.o
	r.advance(ctx, stage.Upload{State: stage.StatusStarted})
	if image != "" {
		image = dataurl.Normalize(image)
		if err := o.store.SetSourceImage(ctx, image); err != nil {
			return Outcome{}, err
		}
	}
	r.advance(ctx, stage.Upload{State: stage.StatusComplete})

	desc := o.brief(ctx, image, text)
	if err := o.store.SetCurrentDescription(ctx, desc); err != nil {
		return Outcome{}, err
	}

	synthesized := false
	if image == "" {
		r.advance(ctx, stage.ImageGeneration{State: stage.StatusStarted})
		img, err := o.backend.GenerateImage(ctx, text)
		if err != nil {
			return Outcome{}, fmt.Errorf("image generation: %w", err)
		}
		image = img
		synthesized = true
		r.advance(ctx, stage.ImageGeneration{State: stage.StatusComplete})
	}

	r.advance(ctx, stage.MeshGeneration{State: stage.StatusStarted})
	jobID, result, err := o.mesh(ctx, image, format, func(progress int) {
		p := progress
		r.advance(ctx, stage.MeshGeneration{State: stage.StatusProcessing, Progress: &p})
	})
	if err != nil {
		return Outcome{}, err
	}

	out := o.outcome(jobID, result)
	out.Description = desc
	out.ImageDataURL = image
	r.advance(ctx, stage.MeshGeneration{State: stage.StatusComplete})
	if err := o.store.SetModel(ctx, out.ModelURL, out.MaterialURL, out.Format); err != nil {
		return Outcome{}, err
	}
	if synthesized {
		if err := o.store.SetSourceImage(ctx, image); err != nil {
			return Outcome{}, err
		}
	}
	r.advance(ctx, stage.Ready{State: stage.StatusComplete})
	return out, nil
}

func (r *generateRun) advance(ctx context.Context, s stage.Stage) {
	r.current = s
	r.o.emitStage(ctx, s)
}

func (r *generateRun) fail(ctx context.Context) {
	if r.current == nil {
		return
	}
	if failed, ok := stage.Failed(r.current); ok {
		r.o.emitStage(ctx, failed)
	}
}

// brief never fails the flow: without an answer the trimmed prompt, or
// nothing, becomes the description.
func (o *Orchestrator) brief(ctx context.Context, image, text string) *string {
	brief, err := o.backend.Brief(ctx, dataurl.StripPrefix(image), text)
	if err == nil && strings.TrimSpace(brief) != "" {
		return &brief
	}
	if err != nil {
		o.logger.Warn().Err(err).Msg("brief unavailable, using prompt")
	}
	if text == "" {
		return nil
	}
	return &text
}

// Edit merges instruction into the current description and regenerates the
// model. It appends the user message, then one assistant message carrying
// either the result or the error; the edit entry is only added on success.
func (o *Orchestrator) Edit(ctx context.Context, instruction string) (Outcome, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Outcome{}, fmt.Errorf("%w: instruction is required", domain.ErrInvalidInput)
	}
	if err := o.store.BeginProcessing(); err != nil {
		return Outcome{}, err
	}
	defer o.store.EndProcessing()

	if err := o.addMessage(ctx, project.RoleUser, instruction); err != nil {
		return Outcome{}, err
	}
	out, err := o.edit(ctx, instruction)
	if err != nil {
		if msgErr := o.addMessage(ctx, project.RoleAssistant, "Error: "+err.Error()); msgErr != nil {
			o.logger.Error().Err(msgErr).Msg("record edit failure")
		}
		return Outcome{}, err
	}
	if err := o.addMessage(ctx, project.RoleAssistant, fmt.Sprintf("Done! New model generated from: %q", *out.Description)); err != nil {
		return out, err
	}
	return out, nil
}

func (o *Orchestrator) edit(ctx context.Context, instruction string) (Outcome, error) {
	current := o.store.Snapshot().CurrentDescription
	newPrompt, err := o.backend.MergePrompt(ctx, current, instruction)
	if err != nil || strings.TrimSpace(newPrompt) == "" {
		if err != nil {
			o.logger.Warn().Err(err).Msg("merge unavailable, using fallback")
		}
		newPrompt = prompt.MergeFallback(current, instruction)
	}
	o.notify(project.Message{Role: project.RoleAssistant, Content: fmt.Sprintf("Regenerating: %q...", newPrompt)})

	image, err := o.backend.GenerateImage(ctx, newPrompt)
	if err != nil {
		return Outcome{}, fmt.Errorf("image generation: %w", err)
	}
	jobID, result, err := o.mesh(ctx, image, "", nil)
	if err != nil {
		return Outcome{}, err
	}

	out := o.outcome(jobID, result)
	out.Description = &newPrompt
	out.ImageDataURL = image
	if err := o.store.SetModel(ctx, out.ModelURL, out.MaterialURL, out.Format); err != nil {
		return Outcome{}, err
	}
	if err := o.store.SetSourceImage(ctx, image); err != nil {
		return Outcome{}, err
	}
	if err := o.store.SetCurrentDescription(ctx, &newPrompt); err != nil {
		return Outcome{}, err
	}
	if _, err := o.store.AddEdit(ctx, project.EditInput{
		Instruction:  instruction,
		NewPrompt:    newPrompt,
		ImageDataURL: image,
		MeshURL:      out.ModelURL,
	}); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// mesh submits the image and polls the job until it is terminal.
func (o *Orchestrator) mesh(ctx context.Context, image string, format domain.MeshFormat, onProgress func(int)) (string, *domain.MeshResult, error) {
	sub, err := o.backend.GenerateMesh(ctx, domain.MeshRequest{
		Image:  dataurl.StripPrefix(image),
		Format: format,
	})
	if err != nil {
		return "", nil, fmt.Errorf("mesh generation: %w", err)
	}
	o.logger.Info().Str("job_id", sub.JobID).Str("provider", sub.Provider).Msg("mesh job submitted")
	result, err := o.poll(ctx, sub.JobID, onProgress)
	if err != nil {
		return sub.JobID, nil, err
	}
	return sub.JobID, result, nil
}

func (o *Orchestrator) poll(ctx context.Context, jobID string, onProgress func(int)) (*domain.MeshResult, error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if o.pollTimeout > 0 {
		timer := time.NewTimer(o.pollTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: job %s after %s", domain.ErrPollTimeout, jobID, o.pollTimeout)
		case <-ticker.C:
		}

		report, err := o.backend.CheckStatus(ctx, jobID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("status check: %w", err)
		}
		switch report.Status {
		case domain.JobStatusFailed:
			msg := report.Error
			if msg == "" {
				msg = meshFailedMessage
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrProviderFailure, msg)
		case domain.JobStatusComplete:
			if report.Result == nil || report.Result.MeshFileURL == "" {
				return nil, fmt.Errorf("%w: job completed without a result", domain.ErrProviderFailure)
			}
			return report.Result, nil
		}
		if report.Progress != nil && onProgress != nil {
			onProgress(*report.Progress)
		}
	}
}

func (o *Orchestrator) outcome(jobID string, result *domain.MeshResult) Outcome {
	out := Outcome{
		JobID:    jobID,
		ModelURL: RewriteMeshURL(result.MeshFileURL, o.proxyPath),
		Format:   result.Format,
	}
	if result.MaterialURL != "" {
		out.MaterialURL = RewriteMeshURL(result.MaterialURL, o.proxyPath)
	}
	return out
}

// RewriteMeshURL routes absolute http(s) URLs through the same-origin proxy.
// Relative URLs are returned unchanged.
func RewriteMeshURL(raw, proxyPath string) string {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return raw
	}
	if proxyPath == "" {
		proxyPath = DefaultProxyPath
	}
	return proxyPath + "?url=" + url.QueryEscape(raw)
}

func (o *Orchestrator) emitStage(ctx context.Context, s stage.Stage) {
	if err := o.store.SetPipelineStage(ctx, s); err != nil {
		o.logger.Warn().Err(err).Str("stage", string(s.Kind())).Msg("persist pipeline stage")
	}
	if o.observer.OnStage != nil {
		o.observer.OnStage(s)
	}
}

func (o *Orchestrator) addMessage(ctx context.Context, role project.Role, content string) error {
	if err := o.store.AddMessage(ctx, role, content); err != nil {
		return err
	}
	o.notify(project.Message{Role: role, Content: content})
	return nil
}

func (o *Orchestrator) notify(m project.Message) {
	if o.observer.OnMessage != nil {
		o.observer.OnMessage(m)
	}
}
