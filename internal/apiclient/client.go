// Package apiclient talks to the Itera HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"itera/internal/domain"
)

const defaultTimeout = 2 * time.Minute

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return e.Message
}

// Unwrap maps the API's error codes onto domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "bad_request":
		return domain.ErrInvalidInput
	case "not_found":
		return domain.ErrNotFound
	}
	if e.Status >= 500 {
		return domain.ErrProviderFailure
	}
	return nil
}

type Options struct {
	HTTPClient *http.Client
	// Locale is sent as X-Locale.
	Locale string
}

type Client struct {
	base   *url.URL
	http   *http.Client
	locale string
}

func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url must be http(s), got %q", baseURL)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: base, http: client, locale: opts.Locale}, nil
}

// ProxyPath is the absolute proxy endpoint, used to rewrite vendor URLs.
func (c *Client) ProxyPath() string {
	return c.ResolveURL("/proxy")
}

// ResolveURL turns an API-relative reference such as /samples/cube.obj into
// an absolute URL. Absolute references are returned unchanged.
func (c *Client) ResolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

func (c *Client) Brief(ctx context.Context, image, prompt string) (string, error) {
	var out struct {
		Brief string `json:"brief"`
	}
	body := map[string]string{}
	if image != "" {
		body["image"] = image
	}
	if prompt != "" {
		body["prompt"] = prompt
	}
	if err := c.do(ctx, http.MethodPost, "/brief", body, &out); err != nil {
		return "", err
	}
	return out.Brief, nil
}

func (c *Client) MergePrompt(ctx context.Context, description *string, instruction string) (string, error) {
	var out struct {
		NewPrompt string `json:"newPrompt"`
	}
	body := struct {
		Description *string `json:"description"`
		Instruction string  `json:"instruction"`
	}{description, instruction}
	if err := c.do(ctx, http.MethodPost, "/edit", body, &out); err != nil {
		return "", err
	}
	return out.NewPrompt, nil
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	var out struct {
		ImageDataURL string `json:"imageDataUrl"`
	}
	if err := c.do(ctx, http.MethodPost, "/image-generate", map[string]string{"prompt": prompt}, &out); err != nil {
		return "", err
	}
	return out.ImageDataURL, nil
}

func (c *Client) GenerateMesh(ctx context.Context, req domain.MeshRequest) (domain.Submission, error) {
	var out domain.Submission
	if err := c.do(ctx, http.MethodPost, "/generate", req, &out); err != nil {
		return domain.Submission{}, err
	}
	return out, nil
}

func (c *Client) CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	var out domain.StatusReport
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), nil, &out); err != nil {
		return domain.StatusReport{}, err
	}
	return out, nil
}

type ExportResult struct {
	DownloadURL string            `json:"downloadUrl"`
	Format      domain.MeshFormat `json:"format"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

func (c *Client) Export(ctx context.Context, modelURL string, format domain.MeshFormat) (ExportResult, error) {
	var out ExportResult
	body := map[string]string{"modelUrl": modelURL}
	if format != "" {
		body["format"] = string(format)
	}
	if err := c.do(ctx, http.MethodPost, "/export", body, &out); err != nil {
		return ExportResult{}, err
	}
	return out, nil
}

// Download fetches a model reference, resolving API-relative paths first.
func (c *Client) Download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ResolveURL(ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.ResolveURL(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.locale != "" {
		req.Header.Set("X-Locale", c.locale)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
	} else if text := strings.TrimSpace(string(raw)); text != "" {
		apiErr.Message = text
	}
	return apiErr
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
