package image

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"itera/internal/domain"
	"itera/pkg/dataurl"
)

const defaultOpenAIImageModel = openai.CreateImageModelDallE3

type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Size       string
	HTTPClient *http.Client
}

// OpenAI generates images through the images API and asks for base64 output
// so the result never depends on a short-lived hosted URL.
type OpenAI struct {
	apiKey string
	model  string
	size   string
	client *openai.Client
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	apiKey := strings.TrimSpace(opts.APIKey)
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultOpenAIImageModel
	}
	size := strings.TrimSpace(opts.Size)
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	return &OpenAI{apiKey: apiKey, model: model, size: size, client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAI) Name() string { return string(BackendOpenAI) }

func (o *OpenAI) HasCredentials() bool { return o.apiKey != "" }

func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          o.model,
		N:              1,
		Size:           o.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai image: %v", domain.ErrProviderFailure, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", fmt.Errorf("%w: openai image: empty response", domain.ErrProviderFailure)
	}
	payload := resp.Data[0].B64JSON
	return "data:" + dataurl.MIMEType(payload) + ";base64," + payload, nil
}

var _ credentialed = (*OpenAI)(nil)
