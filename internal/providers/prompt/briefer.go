package prompt

import (
	"context"
	"strings"
)

const defaultBrief = "A 3D object."

// BriefRequest carries whatever the user supplied. Image is base64, with or
// without a data: header.
type BriefRequest struct {
	Image  string
	Prompt string
	Locale string
}

type BriefResponse struct {
	Brief          string `json:"brief"`
	Provider       string `json:"-"`
	FallbackReason string `json:"-"`
}

// MergeRequest folds an edit instruction into the current description. A nil
// Description means no brief exists yet.
type MergeRequest struct {
	Description *string
	Instruction string
	Locale      string
}

type MergeResponse struct {
	NewPrompt      string `json:"newPrompt"`
	Provider       string `json:"-"`
	FallbackReason string `json:"-"`
}

// Briefer writes and rewrites design briefs. Neither operation fails: vendor
// problems degrade to a deterministic answer.
type Briefer interface {
	Brief(ctx context.Context, req BriefRequest) BriefResponse
	Merge(ctx context.Context, req MergeRequest) MergeResponse
}

// Static answers without any vendor call.
type Static struct{}

func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Brief(_ context.Context, req BriefRequest) BriefResponse {
	return BriefResponse{Brief: StaticBrief(req.Prompt), Provider: staticProviderName}
}

func (s *Static) Merge(_ context.Context, req MergeRequest) MergeResponse {
	return MergeResponse{NewPrompt: MergeFallback(req.Description, req.Instruction), Provider: staticProviderName}
}

// StaticBrief is the brief used when no vendor answer is available: the
// prompt as given, or a fixed default when it is blank.
func StaticBrief(prompt string) string {
	if strings.TrimSpace(prompt) != "" {
		return prompt
	}
	return defaultBrief
}

// MergeFallback concatenates description and instruction, or returns the
// instruction alone when there is no description.
func MergeFallback(description *string, instruction string) string {
	if description != nil && *description != "" {
		return *description + ", but " + instruction
	}
	return instruction
}

var _ Briefer = (*Static)(nil)
