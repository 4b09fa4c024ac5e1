package pipeline

import (
	"context"

	"itera/internal/domain"
	"itera/internal/service"
)

// Backend is the remote surface the orchestrator drives. apiclient.Client
// talks to it over HTTP; Local calls the service in process.
type Backend interface {
	Brief(ctx context.Context, image, prompt string) (string, error)
	MergePrompt(ctx context.Context, description *string, instruction string) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
	GenerateMesh(ctx context.Context, req domain.MeshRequest) (domain.Submission, error)
	CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error)
}

// Local adapts a service.Service to Backend.
type Local struct {
	Service *service.Service
	Locale  string
}

func (l Local) Brief(ctx context.Context, image, prompt string) (string, error) {
	return l.Service.Brief(ctx, service.BriefInput{Image: image, Prompt: prompt, Locale: l.Locale})
}

func (l Local) MergePrompt(ctx context.Context, description *string, instruction string) (string, error) {
	return l.Service.MergePrompt(ctx, service.MergeInput{Description: description, Instruction: instruction, Locale: l.Locale})
}

func (l Local) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return l.Service.GenerateImage(ctx, prompt)
}

func (l Local) GenerateMesh(ctx context.Context, req domain.MeshRequest) (domain.Submission, error) {
	return l.Service.GenerateMesh(ctx, req)
}

func (l Local) CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	return l.Service.CheckStatus(ctx, jobID)
}

var _ Backend = Local{}
