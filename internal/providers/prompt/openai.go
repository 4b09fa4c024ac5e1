package prompt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"itera/pkg/dataurl"
)

type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	VisionModel string
	TextModel   string
	HTTPClient  *http.Client
	Fallback    Briefer
	OnFallback  func(operation, reason string, err error)
	OnWarning   func(reason, detail string)
}

// OpenAIBriefer writes briefs with chat completions. A vision model handles
// requests carrying an image, a text model everything else.
type OpenAIBriefer struct {
	apiKey      string
	client      *openai.Client
	visionModel string
	textModel   string
	fallback    Briefer
	onFallback  func(operation, reason string, err error)
}

const openAIDefaultTimeout = 30 * time.Second

const (
	defaultVisionModel = "gpt-4o"
	defaultTextModel   = "gpt-4o-mini"
)

const (
	briefTemperature = 0.5
	briefMaxTokens   = 200
	mergeTemperature = 0.7
)

var openAIModelCanonical = map[string]string{
	"gpt-4o":      "gpt-4o",
	"gpt-4o-mini": "gpt-4o-mini",
	"gpt-4.1":     "gpt-4.1",
}

var openAIModelAliases = map[string]string{
	"gpt4o":                  "gpt-4o",
	"gpt-4-o":                "gpt-4o",
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt-4o-2024-08-06":      "gpt-4o",
	"gpt41":                  "gpt-4.1",
}

// NewOpenAIBriefer never fails. Without an API key every call takes the
// fallback path with reason missing_api_key.
func NewOpenAIBriefer(opts OpenAIOptions) *OpenAIBriefer {
	apiKey := strings.TrimSpace(opts.APIKey)
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: openAIDefaultTimeout}
	}
	cfg.HTTPClient = httpClient

	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStatic()
	}
	return &OpenAIBriefer{
		apiKey:      apiKey,
		client:      openai.NewClientWithConfig(cfg),
		visionModel: resolveModel(opts.VisionModel, defaultVisionModel, opts.OnWarning),
		textModel:   resolveModel(opts.TextModel, defaultTextModel, opts.OnWarning),
		fallback:    fallback,
		onFallback:  opts.OnFallback,
	}
}

func resolveModel(requested, def string, onWarning func(reason, detail string)) string {
	model, reason := normalizeOpenAIModel(requested, def)
	if reason != "" && onWarning != nil {
		onWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", coalesce(requested, def), model))
	}
	return model
}

func (o *OpenAIBriefer) Brief(ctx context.Context, req BriefRequest) BriefResponse {
	if o.apiKey == "" {
		return o.useBriefFallback(ctx, req, "missing_api_key", nil)
	}
	prompt := strings.TrimSpace(req.Prompt)
	hasImage := strings.TrimSpace(req.Image) != ""

	parts := make([]openai.ChatMessagePart, 0, 2)
	model := o.textModel
	if hasImage {
		model = o.visionModel
		payload := dataurl.StripPrefix(req.Image)
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:" + dataurl.MIMEType(req.Image) + ";base64," + payload,
				Detail: openai.ImageURLDetailHigh,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: briefUserText(hasImage, prompt),
	})

	text, reason, err := o.complete(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: briefTemperature,
		MaxTokens:   briefMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: withLanguageHint(briefSystemPrompt, req.Locale)},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return o.useBriefFallback(ctx, req, reason, err)
	}
	return BriefResponse{Brief: text, Provider: openAIProviderName}
}

func (o *OpenAIBriefer) Merge(ctx context.Context, req MergeRequest) MergeResponse {
	if req.Description == nil || *req.Description == "" {
		// Nothing to merge into; the instruction is the whole prompt.
		return MergeResponse{NewPrompt: MergeFallback(nil, req.Instruction), Provider: staticProviderName}
	}
	if o.apiKey == "" {
		return o.useMergeFallback(ctx, req, "missing_api_key", nil)
	}
	text, reason, err := o.complete(ctx, openai.ChatCompletionRequest{
		Model:       o.textModel,
		Temperature: mergeTemperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: withLanguageHint(mergeSystemPrompt, req.Locale)},
			{Role: openai.ChatMessageRoleUser, Content: mergeUserText(*req.Description, req.Instruction)},
		},
	})
	if err != nil {
		return o.useMergeFallback(ctx, req, reason, err)
	}
	return MergeResponse{NewPrompt: text, Provider: openAIProviderName}
}

// complete returns the trimmed first choice, or a fallback reason and error.
func (o *OpenAIBriefer) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(err), err
	}
	if len(resp.Choices) == 0 {
		return "", "empty_choices", errors.New("no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", "empty_response", errors.New("empty response")
	}
	return text, "", nil
}

func classifyOpenAIError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return fmt.Sprintf("http_%d", apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return fmt.Sprintf("http_%d", reqErr.HTTPStatusCode)
	}
	return "http_request"
}

func (o *OpenAIBriefer) useBriefFallback(ctx context.Context, req BriefRequest, reason string, err error) BriefResponse {
	o.emitFallback("brief", reason, err)
	res := o.fallback.Brief(ctx, req)
	if res.Provider == "" {
		res.Provider = staticProviderName
	}
	res.FallbackReason = reason
	return res
}

func (o *OpenAIBriefer) useMergeFallback(ctx context.Context, req MergeRequest, reason string, err error) MergeResponse {
	o.emitFallback("merge", reason, err)
	res := o.fallback.Merge(ctx, req)
	if res.Provider == "" {
		res.Provider = staticProviderName
	}
	res.FallbackReason = reason
	return res
}

func (o *OpenAIBriefer) emitFallback(operation, reason string, err error) {
	if o.onFallback != nil {
		o.onFallback(operation, reason, err)
	}
}

var _ Briefer = (*OpenAIBriefer)(nil)

func normalizeOpenAIModel(name, def string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return def, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return trimmed, ""
}
