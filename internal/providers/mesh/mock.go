package mesh

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"itera/internal/domain"
	"itera/internal/jobstore"
)

const (
	mockJobPrefix       = "mock-mesh-"
	defaultMockDuration = 2 * time.Second
	// SampleMeshURL is served by the API from embedded samples.
	SampleMeshURL = "/samples/cube.obj"
)

type MockOptions struct {
	Duration time.Duration
	Now      func() time.Time
}

// Mock completes every job after a fixed duration with the sample cube.
type Mock struct {
	jobs     jobstore.Store
	duration time.Duration
	now      func() time.Time
}

func NewMock(jobs jobstore.Store, opts MockOptions) *Mock {
	if opts.Duration <= 0 {
		opts.Duration = defaultMockDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Mock{jobs: jobs, duration: opts.Duration, now: opts.Now}
}

func (m *Mock) Name() string { return string(BackendMock) }

func (m *Mock) GenerateMesh(ctx context.Context, req domain.MeshRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	jobID := mockJobPrefix + uuid.NewString()
	rec := jobstore.Record{
		Status:    domain.JobStatusProcessing,
		CreatedAt: m.now(),
		Data: map[string]any{
			"prompt":   req.Prompt,
			"hasImage": req.Image != "",
		},
	}
	if err := m.jobs.Set(ctx, jobID, rec); err != nil {
		return "", err
	}
	return jobID, nil
}

func (m *Mock) CheckStatus(ctx context.Context, jobID string) (domain.StatusReport, error) {
	rec, err := m.jobs.Update(ctx, jobID, func(rec *jobstore.Record) error {
		if rec.Status.IsTerminal() {
			return nil
		}
		elapsed := m.now().Sub(rec.CreatedAt)
		if elapsed >= m.duration {
			rec.Status = domain.JobStatusComplete
			rec.Progress = 100
			rec.Result = &domain.MeshResult{MeshFileURL: SampleMeshURL, Format: domain.MeshFormatOBJ}
			return nil
		}
		rec.Progress = max(rec.Progress, jobstore.SimulatedProgress(elapsed, m.duration))
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.FailedReport(jobNotFound), nil
	}
	if err != nil {
		return domain.StatusReport{}, err
	}
	return reportFromRecord(rec), nil
}

var _ Provider = (*Mock)(nil)
