package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"itera/internal/domain"
	"itera/pkg/dataurl"
)

const defaultHFBaseURL = "https://router.huggingface.co/hf-inference/models"

// maxImageBytes bounds the body read from the inference endpoint.
const maxImageBytes = 32 << 20

type HuggingFaceOptions struct {
	Token      string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// HuggingFace calls a text-to-image model on the serverless inference API.
// The endpoint answers with the raw image bytes.
type HuggingFace struct {
	token   string
	model   string
	baseURL string
	client  *http.Client
}

func NewHuggingFace(opts HuggingFaceOptions) *HuggingFace {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultHFBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HuggingFace{
		token:   strings.TrimSpace(opts.Token),
		model:   strings.Trim(strings.TrimSpace(opts.Model), "/"),
		baseURL: baseURL,
		client:  client,
	}
}

func (h *HuggingFace) Name() string { return string(BackendHuggingFace) }

// HasCredentials reports whether both token and model are configured.
func (h *HuggingFace) HasCredentials() bool {
	return h.token != "" && h.model != ""
}

func (h *HuggingFace) GenerateImage(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"inputs": prompt})
	if err != nil {
		return "", fmt.Errorf("huggingface image: encode request: %w", err)
	}
	endpoint := h.baseURL + "/" + h.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("huggingface image: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: huggingface image: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: huggingface image: read body: %v", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: HuggingFace image generation error: %d %s", domain.ErrProviderFailure, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: huggingface image: empty body", domain.ErrProviderFailure)
	}
	contentType := "image/jpeg"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			contentType = mt
		}
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: huggingface image: unexpected content type %s", domain.ErrProviderFailure, contentType)
	}
	return dataurl.Encode(contentType, data), nil
}

var _ credentialed = (*HuggingFace)(nil)
