package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"itera/internal/domain"
	"itera/pkg/dataurl"
)

const (
	defaultMeshyBaseURL = "https://api.meshy.ai"
	meshyImagePrefix    = "meshy-img-"
	meshyTextPrefix     = "meshy-txt-"
	meshyModel          = "meshy-6"
	meshyTopology       = "triangle"
	meshyPolycount      = 30000
	maxErrorBody        = 4 << 10
)

type MeshyOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Meshy drives the vendor's task API: image-to-3D when an image is given,
// text-to-3D preview otherwise. The job id prefix records which endpoint
// owns the task.
type Meshy struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewMeshy(opts MeshyOptions) *Meshy {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultMeshyBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Meshy{apiKey: strings.TrimSpace(opts.APIKey), baseURL: baseURL, client: client}
}

func (m *Meshy) Name() string { return string(BackendMeshy) }

type meshyCreateResponse struct {
	Result string `json:"result"`
}

type meshyTask struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ModelURLs *struct {
		GLB string `json:"glb"`
		FBX string `json:"fbx"`
		OBJ string `json:"obj"`
		MTL string `json:"mtl"`
	} `json:"model_urls"`
	VertexCount *int `json:"vertex_count"`
	FaceCount   *int `json:"face_count"`
	TaskError   *struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

var meshyStatusMap = map[string]domain.JobStatus{
	"PENDING":     domain.JobStatusPending,
	"IN_PROGRESS": domain.JobStatusProcessing,
	"SUCCEEDED":   domain.JobStatusComplete,
	"FAILED":      domain.JobStatusFailed,
	"CANCELED":    domain.JobStatusFailed,
}

func (m *Meshy) GenerateMesh(ctx context.Context, req domain.MeshRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	body := map[string]any{
		"ai_model":         meshyModel,
		"topology":         meshyTopology,
		"target_polycount": meshyPolycount,
	}
	// The image wins; a prompt sent alongside only guides texturing.
	if strings.TrimSpace(req.Image) != "" {
		body["image_url"] = dataurl.Normalize(req.Image)
		if p := strings.TrimSpace(req.Prompt); p != "" {
			body["texture_prompt"] = p
		}
		taskID, err := m.createTask(ctx, "/openapi/v1/image-to-3d", "image-to-3D", body)
		if err != nil {
			return "", err
		}
		return meshyImagePrefix + taskID, nil
	}
	body["mode"] = "preview"
	body["prompt"] = strings.TrimSpace(req.Prompt)
	taskID, err := m.createTask(ctx, "/openapi/v2/text-to-3d", "text-to-3D", body)
	if err != nil {
		return "", err
	}
	return meshyTextPrefix + taskID, nil
}

func (m *Meshy) createTask(ctx context.Context, path, label string, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("meshy: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("meshy: build request: %w", err)
	}
	m.setHeaders(req)
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: meshy %s: %v", domain.ErrProviderFailure, label, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: Meshy %s API error: %d %s", domain.ErrProviderFailure, label, resp.StatusCode, readErrorBody(resp.Body))
	}
	var out meshyCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: meshy %s: decode response: %v", domain.ErrProviderFailure, label, err)
	}
	if strings.TrimSpace(out.Result) == "" {
		return "", fmt.Errorf("%w: meshy %s: response has no task id", domain.ErrProviderFailure, label)
	}
	return out.Result, nil
}

func (m *Meshy) CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	var endpoint string
	switch {
	case strings.HasPrefix(jobID, meshyImagePrefix):
		endpoint = m.baseURL + "/openapi/v1/image-to-3d/" + strings.TrimPrefix(jobID, meshyImagePrefix)
	case strings.HasPrefix(jobID, meshyTextPrefix):
		endpoint = m.baseURL + "/openapi/v2/text-to-3d/" + strings.TrimPrefix(jobID, meshyTextPrefix)
	default:
		return domain.FailedReport("Unknown Meshy job ID format: " + jobID), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("meshy: build request: %w", err)
	}
	m.setHeaders(req)
	resp, err := m.client.Do(req)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("%w: meshy status: %v", domain.ErrProviderFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.FailedReport(fmt.Sprintf("Meshy status check failed: %d %s", resp.StatusCode, readErrorBody(resp.Body))), nil
	}
	var task meshyTask
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return domain.StatusReport{}, fmt.Errorf("%w: meshy status: decode response: %v", domain.ErrProviderFailure, err)
	}
	return task.report(), nil
}

func (t meshyTask) report() domain.StatusReport {
	status, ok := meshyStatusMap[t.Status]
	if !ok {
		status = domain.JobStatusPending
	}
	switch status {
	case domain.JobStatusComplete:
		result := t.result()
		if result == nil {
			return domain.FailedReport("Meshy task finished without a model URL")
		}
		return domain.StatusReport{Status: domain.JobStatusComplete, Progress: domain.IntPtr(100), Result: result}
	case domain.JobStatusFailed:
		if t.TaskError != nil && t.TaskError.Message != "" {
			return domain.FailedReport(t.TaskError.Message)
		}
		return domain.FailedReport("Meshy task failed")
	}
	return domain.StatusReport{Status: status, Progress: domain.IntPtr(t.Progress)}
}

// result prefers obj (with its mtl companion), then glb, then fbx.
func (t meshyTask) result() *domain.MeshResult {
	if t.ModelURLs == nil {
		return nil
	}
	var res domain.MeshResult
	switch {
	case t.ModelURLs.OBJ != "":
		res = domain.MeshResult{MeshFileURL: t.ModelURLs.OBJ, MaterialURL: t.ModelURLs.MTL, Format: domain.MeshFormatOBJ}
	case t.ModelURLs.GLB != "":
		res = domain.MeshResult{MeshFileURL: t.ModelURLs.GLB, Format: domain.MeshFormatGLB}
	case t.ModelURLs.FBX != "":
		res = domain.MeshResult{MeshFileURL: t.ModelURLs.FBX, Format: domain.MeshFormatFBX}
	default:
		return nil
	}
	if t.VertexCount != nil || t.FaceCount != nil {
		res.Metadata = &domain.MeshMetadata{Vertices: t.VertexCount, Faces: t.FaceCount}
	}
	return &res
}

func (m *Meshy) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}

var _ Provider = (*Meshy)(nil)
