package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"itera/internal/domain"
	"itera/internal/jobstore"
	"itera/internal/storage"
	"itera/pkg/dataurl"
	"itera/pkg/zip"
)

const (
	hfJobPrefix           = "hf-"
	defaultHFTimeout      = 5 * time.Minute
	hfExpectedDuration    = 60 * time.Second
	defaultAssetURLPrefix = "/assets"
	maxMeshBytes          = 256 << 20
)

type HuggingFaceOptions struct {
	Endpoint       string
	Token          string
	Timeout        time.Duration
	Jobs           jobstore.Store
	Blobs          *storage.FileStore
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	Now            func() time.Time
	AssetURLPrefix string
}

// HuggingFace wraps a synchronous inference endpoint. Submission records a
// processing job and runs the call in the background; status checks read the
// record, so the vendor is never contacted while polling.
type HuggingFace struct {
	endpoint  string
	token     string
	timeout   time.Duration
	jobs      jobstore.Store
	blobs     *storage.FileStore
	client    *http.Client
	logger    zerolog.Logger
	now       func() time.Time
	urlPrefix string

	wg sync.WaitGroup
}

func NewHuggingFace(opts HuggingFaceOptions) *HuggingFace {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultHFTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// The inference call is bounded by the job timeout, never by a shorter
	// client timeout.
	client := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		c.Timeout = 0
		client = &c
	}
	prefix := strings.TrimRight(strings.TrimSpace(opts.AssetURLPrefix), "/")
	if prefix == "" {
		prefix = defaultAssetURLPrefix
	}
	return &HuggingFace{
		endpoint:  strings.TrimSpace(opts.Endpoint),
		token:     strings.TrimSpace(opts.Token),
		timeout:   opts.Timeout,
		jobs:      opts.Jobs,
		blobs:     opts.Blobs,
		client:    client,
		logger:    opts.Logger,
		now:       opts.Now,
		urlPrefix: prefix,
	}
}

func (h *HuggingFace) Name() string { return string(BackendHuggingFace) }

func (h *HuggingFace) GenerateMesh(ctx context.Context, req domain.MeshRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Image) == "" {
		return "", fmt.Errorf("%w: 'image' is required for the huggingface mesh backend", domain.ErrInvalidInput)
	}
	format := req.Format
	if format == "" {
		format = domain.MeshFormatGLB
	}
	jobID := hfJobPrefix + uuid.NewString()
	rec := jobstore.Record{
		Status:    domain.JobStatusProcessing,
		CreatedAt: h.now(),
		Data:      map[string]any{"format": string(format)},
	}
	if err := h.jobs.Set(ctx, jobID, rec); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		h.run(runCtx, jobID, dataurl.StripPrefix(req.Image), format)
	}()
	return jobID, nil
}

// Wait blocks until every background inference call has finished.
func (h *HuggingFace) Wait() {
	h.wg.Wait()
}

func (h *HuggingFace) run(ctx context.Context, jobID, image string, format domain.MeshFormat) {
	logger := h.logger.With().Str("job_id", jobID).Str("provider", h.Name()).Logger()
	result, err := h.infer(ctx, jobID, image, format)
	// The job context may be spent; bookkeeping gets its own short budget.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, updateErr := h.jobs.Update(saveCtx, jobID, func(rec *jobstore.Record) error {
		if err != nil {
			rec.Status = domain.JobStatusFailed
			rec.Error = err.Error()
			return nil
		}
		rec.Status = domain.JobStatusComplete
		rec.Progress = 100
		rec.Result = result
		return nil
	})
	if updateErr != nil {
		logger.Error().Err(updateErr).Msg("persist mesh job outcome")
	}
	if err != nil {
		logger.Warn().Err(err).Msg("mesh inference failed")
		return
	}
	logger.Info().Str("mesh_url", result.MeshFileURL).Msg("mesh inference complete")
}

func (h *HuggingFace) infer(ctx context.Context, jobID, image string, format domain.MeshFormat) (*domain.MeshResult, error) {
	payload, err := json.Marshal(map[string]any{
		"inputs":     image,
		"parameters": map[string]string{"output_format": string(format)},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("HF inference timed out after %s", h.timeout)
		}
		return nil, fmt.Errorf("HF API request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HF API error: %d %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMeshBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read HF response: %v", err)
	}
	if len(data) > maxMeshBytes {
		return nil, errors.New("HF response exceeds the mesh size limit")
	}
	if len(data) == 0 {
		return nil, errors.New("HF response is empty")
	}
	if zip.IsArchive(data) {
		return h.storeArchive(ctx, jobID, data)
	}
	return h.storeRaw(ctx, jobID, data, format)
}

func (h *HuggingFace) storeArchive(ctx context.Context, jobID string, data []byte) (*domain.MeshResult, error) {
	mesh, err := zip.ExtractMesh(data)
	if err != nil {
		return nil, err
	}
	objURL, err := h.writeAsset(ctx, jobID, mesh.OBJ.Filename, mesh.OBJ.Data)
	if err != nil {
		return nil, err
	}
	result := &domain.MeshResult{MeshFileURL: objURL, Format: domain.MeshFormatOBJ}
	if mesh.MTL != nil {
		mtlURL, err := h.writeAsset(ctx, jobID, mesh.MTL.Filename, mesh.MTL.Data)
		if err != nil {
			return nil, err
		}
		result.MaterialURL = mtlURL
	}
	// Textures sit next to the mtl so its relative map paths resolve.
	for _, tex := range mesh.Textures {
		if _, err := h.writeAsset(ctx, jobID, tex.Filename, tex.Data); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (h *HuggingFace) storeRaw(ctx context.Context, jobID string, data []byte, requested domain.MeshFormat) (*domain.MeshResult, error) {
	format := sniffMeshFormat(data, requested)
	meshURL, err := h.writeAsset(ctx, jobID, "model."+string(format), data)
	if err != nil {
		return nil, err
	}
	return &domain.MeshResult{MeshFileURL: meshURL, Format: format}, nil
}

func (h *HuggingFace) writeAsset(ctx context.Context, jobID, name string, data []byte) (string, error) {
	key, err := h.blobs.Write(ctx, path.Join("meshes", jobID, path.Base(name)), data)
	if err != nil {
		return "", fmt.Errorf("store mesh file: %w", err)
	}
	return h.urlPrefix + "/" + key, nil
}

// sniffMeshFormat inspects magic bytes and falls back to the requested format.
func sniffMeshFormat(data []byte, requested domain.MeshFormat) domain.MeshFormat {
	switch {
	case bytes.HasPrefix(data, []byte("glTF")):
		return domain.MeshFormatGLB
	case bytes.HasPrefix(data, []byte("Kaydara FBX Binary")):
		return domain.MeshFormatFBX
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")):
		return domain.MeshFormatSTL
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	text := string(head)
	if strings.HasPrefix(text, "v ") || strings.Contains(text, "\nv ") || strings.HasPrefix(text, "mtllib") {
		return domain.MeshFormatOBJ
	}
	if requested.Valid() {
		return requested
	}
	return domain.MeshFormatGLB
}

func (h *HuggingFace) CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	rec, ok, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		return domain.StatusReport{}, err
	}
	if !ok {
		return domain.FailedReport(jobNotFound), nil
	}
	if !rec.Status.IsTerminal() {
		rec.Progress = max(rec.Progress, jobstore.SimulatedProgress(h.now().Sub(rec.CreatedAt), hfExpectedDuration))
	}
	return reportFromRecord(rec), nil
}

var _ Provider = (*HuggingFace)(nil)
