package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itera/internal/domain"
	"itera/internal/jobstore"
	"itera/internal/pipeline/stage"
	"itera/internal/project"
	"itera/internal/providers/image"
	"itera/internal/providers/mesh"
	"itera/internal/service"
)

type scriptedBackend struct {
	mu        sync.Mutex
	briefErr  error
	imageErr  error
	submitErr error
	reports   []domain.StatusReport
	polls     int
	submitted []domain.MeshRequest
	images    []string
}

func (b *scriptedBackend) Brief(_ context.Context, image, prompt string) (string, error) {
	if b.briefErr != nil {
		return "", b.briefErr
	}
	return "brief: " + prompt, nil
}

func (b *scriptedBackend) MergePrompt(_ context.Context, description *string, instruction string) (string, error) {
	return "", errors.New("merge endpoint down")
}

func (b *scriptedBackend) GenerateImage(_ context.Context, prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images = append(b.images, prompt)
	if b.imageErr != nil {
		return "", b.imageErr
	}
	return "data:image/png;base64,iVBORw0KGgo=", nil
}

func (b *scriptedBackend) GenerateMesh(_ context.Context, req domain.MeshRequest) (domain.Submission, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, req)
	if b.submitErr != nil {
		return domain.Submission{}, b.submitErr
	}
	return domain.Submission{JobID: "job-1", Provider: "scripted"}, nil
}

func (b *scriptedBackend) CheckStatus(context.Context, string) (domain.StatusReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.polls
	if idx >= len(b.reports) {
		idx = len(b.reports) - 1
	}
	b.polls++
	return b.reports[idx], nil
}

type recorder struct {
	mu       sync.Mutex
	stages   []stage.Stage
	messages []project.Message
}

func (r *recorder) observer() Observer {
	return Observer{
		OnStage: func(s stage.Stage) {
			r.mu.Lock()
			r.stages = append(r.stages, s)
			r.mu.Unlock()
		},
		OnMessage: func(m project.Message) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
	}
}

func newOrchestrator(backend Backend, rec *recorder, timeout time.Duration) (*Orchestrator, *project.Store) {
	store := project.Open(context.Background(), project.Options{})
	return New(Options{
		Backend:      backend,
		Store:        store,
		PollInterval: time.Millisecond,
		PollTimeout:  timeout,
		Observer:     rec.observer(),
	}), store
}

func progress(status domain.JobStatus, p int) domain.StatusReport {
	return domain.StatusReport{Status: status, Progress: domain.IntPtr(p)}
}

func TestGenerateFromPrompt(t *testing.T) {
	backend := &scriptedBackend{reports: []domain.StatusReport{
		progress(domain.JobStatusPending, 0),
		progress(domain.JobStatusProcessing, 40),
		{Status: domain.JobStatusComplete, Progress: domain.IntPtr(100), Result: &domain.MeshResult{
			MeshFileURL: "https://assets.meshy.ai/t/model.obj?sig=a&b=c",
			MaterialURL: "https://assets.meshy.ai/t/model.mtl",
			Format:      domain.MeshFormatOBJ,
		}},
	}}
	rec := &recorder{}
	o, store := newOrchestrator(backend, rec, 0)

	out, err := o.Generate(context.Background(), GenerateInput{Prompt: " a red mug "})
	require.NoError(t, err)

	assert.Equal(t, "/proxy?url=https%3A%2F%2Fassets.meshy.ai%2Ft%2Fmodel.obj%3Fsig%3Da%26b%3Dc", out.ModelURL)
	assert.Equal(t, "/proxy?url=https%3A%2F%2Fassets.meshy.ai%2Ft%2Fmodel.mtl", out.MaterialURL)
	assert.Equal(t, []string{"a red mug"}, backend.images)
	require.Len(t, backend.submitted, 1)
	assert.Equal(t, "iVBORw0KGgo=", backend.submitted[0].Image, "data URL header is stripped before submit")

	kinds := make([]string, 0, len(rec.stages))
	for _, s := range rec.stages {
		kinds = append(kinds, string(s.Kind())+"."+string(s.Status()))
	}
	assert.Equal(t, []string{
		"upload.started",
		"upload.complete",
		"image_generation.started",
		"image_generation.complete",
		"mesh_generation.started",
		"mesh_generation.processing",
		"mesh_generation.processing",
		"mesh_generation.complete",
		"ready.complete",
	}, kinds)

	last := -1
	for _, s := range rec.stages {
		if m, ok := s.(stage.MeshGeneration); ok && m.Progress != nil {
			assert.GreaterOrEqual(t, *m.Progress, last)
			last = *m.Progress
		}
	}

	state := store.Snapshot()
	require.NotNil(t, state.CurrentDescription)
	assert.Equal(t, "brief: a red mug", *state.CurrentDescription)
	require.True(t, state.HasModel())
	assert.Equal(t, out.ModelURL, *state.ModelURL)
	assert.Equal(t, domain.MeshFormatOBJ, state.ModelFormat)
	require.NotNil(t, state.SourceImage)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", *state.SourceImage)
	assert.Equal(t, stage.Ready{State: stage.StatusComplete}, state.PipelineStage.Stage)
	assert.False(t, store.IsProcessing())
}

func TestGenerateBriefFailureFallsBackToPrompt(t *testing.T) {
	backend := &scriptedBackend{
		briefErr: errors.New("vision down"),
		reports: []domain.StatusReport{{Status: domain.JobStatusComplete, Result: &domain.MeshResult{
			MeshFileURL: "/samples/cube.obj", Format: domain.MeshFormatOBJ,
		}}},
	}
	o, store := newOrchestrator(backend, &recorder{}, 0)

	out, err := o.Generate(context.Background(), GenerateInput{Image: "/9j/4AAQ", Prompt: "a mug"})
	require.NoError(t, err)
	assert.Equal(t, "/samples/cube.obj", out.ModelURL)
	assert.Empty(t, backend.images, "an uploaded image skips image synthesis")
	assert.Equal(t, "/9j/4AAQ", backend.submitted[0].Image)

	state := store.Snapshot()
	assert.Equal(t, "a mug", *state.CurrentDescription)
	assert.Equal(t, "data:image/jpeg;base64,/9j/4AAQ", *state.SourceImage)
}

func TestGenerateMeshFailure(t *testing.T) {
	backend := &scriptedBackend{reports: []domain.StatusReport{
		progress(domain.JobStatusProcessing, 20),
		{Status: domain.JobStatusFailed, Error: "Meshy task failed"},
	}}
	rec := &recorder{}
	o, store := newOrchestrator(backend, rec, 0)

	_, err := o.Generate(context.Background(), GenerateInput{Prompt: "a mug"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderFailure)
	assert.Contains(t, err.Error(), "Meshy task failed")

	lastStage := rec.stages[len(rec.stages)-1]
	assert.Equal(t, stage.KindMeshGeneration, lastStage.Kind())
	assert.Equal(t, stage.StatusFailed, lastStage.Status())

	state := store.Snapshot()
	assert.False(t, state.HasModel())
	assert.Nil(t, state.SourceImage, "synthesized image is not committed on failure")
	assert.False(t, store.IsProcessing())
}

func TestGenerateImageFailure(t *testing.T) {
	backend := &scriptedBackend{imageErr: errors.New("quota")}
	rec := &recorder{}
	o, _ := newOrchestrator(backend, rec, 0)

	_, err := o.Generate(context.Background(), GenerateInput{Prompt: "a mug"})
	require.Error(t, err)
	assert.Empty(t, backend.submitted)
	lastStage := rec.stages[len(rec.stages)-1]
	assert.Equal(t, stage.ImageGeneration{State: stage.StatusFailed}, lastStage)
}

func TestGenerateValidation(t *testing.T) {
	backend := &scriptedBackend{}
	o, _ := newOrchestrator(backend, &recorder{}, 0)
	_, err := o.Generate(context.Background(), GenerateInput{Prompt: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = o.Edit(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, backend.submitted)
}

func TestPollTimeout(t *testing.T) {
	backend := &scriptedBackend{reports: []domain.StatusReport{progress(domain.JobStatusProcessing, 10)}}
	o, store := newOrchestrator(backend, &recorder{}, 20*time.Millisecond)

	_, err := o.Generate(context.Background(), GenerateInput{Prompt: "a mug"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPollTimeout)
	assert.False(t, store.Snapshot().HasModel())
}

func TestPollHonorsCancellation(t *testing.T) {
	backend := &scriptedBackend{reports: []domain.StatusReport{{Status: domain.JobStatusPending}}}
	o, _ := newOrchestrator(backend, &recorder{}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := o.Generate(ctx, GenerateInput{Prompt: "a mug"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusyStoreRejectsSecondFlow(t *testing.T) {
	backend := &scriptedBackend{}
	o, store := newOrchestrator(backend, &recorder{}, 0)
	require.NoError(t, store.BeginProcessing())
	_, err := o.Generate(context.Background(), GenerateInput{Prompt: "a mug"})
	assert.ErrorIs(t, err, project.ErrBusy)
	_, err = o.Edit(context.Background(), "make it blue")
	assert.ErrorIs(t, err, project.ErrBusy)
}

func newLocalBackend(t *testing.T) Local {
	t.Helper()
	meshes, err := mesh.New(mesh.BackendMock, mesh.Deps{
		Jobs:         jobstore.NewMemory(),
		MockDuration: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return Local{Service: service.New(service.Options{
		Images: image.NewMock(),
		Meshes: meshes,
	})}
}

func TestEditScenarioWithoutVendors(t *testing.T) {
	rec := &recorder{}
	o, store := newOrchestrator(newLocalBackend(t), rec, 5*time.Second)
	ctx := context.Background()

	desc := "a red mug"
	require.NoError(t, store.SetCurrentDescription(ctx, &desc))

	out, err := o.Edit(ctx, "make it blue")
	require.NoError(t, err)
	require.NotNil(t, out.Description)
	assert.Equal(t, "a red mug, but make it blue", *out.Description)
	assert.Equal(t, mesh.SampleMeshURL, out.ModelURL)

	state := store.Snapshot()
	require.Len(t, state.EditHistory, 1)
	entry := state.EditHistory[0]
	assert.Equal(t, "make it blue", entry.Instruction)
	assert.Equal(t, "a red mug, but make it blue", entry.NewPrompt)
	assert.Equal(t, mesh.SampleMeshURL, entry.MeshURL)
	assert.NotEmpty(t, entry.ImageDataURL)
	assert.Regexp(t, `^edit-`, entry.ID)

	require.Len(t, state.Messages, 2)
	assert.Equal(t, project.Message{Role: project.RoleUser, Content: "make it blue"}, state.Messages[0])
	assert.Equal(t, project.RoleAssistant, state.Messages[1].Role)
	assert.Contains(t, state.Messages[1].Content, "a red mug, but make it blue")
	assert.Equal(t, "a red mug, but make it blue", *state.CurrentDescription)
	assert.Equal(t, domain.MeshFormatOBJ, state.ModelFormat)

	assert.Len(t, rec.messages, 3, "user, regenerating notice, done")
}

func TestEditMergeFailureUsesFallbackLaw(t *testing.T) {
	backend := &scriptedBackend{reports: []domain.StatusReport{{Status: domain.JobStatusComplete, Result: &domain.MeshResult{
		MeshFileURL: "/samples/cube.obj", Format: domain.MeshFormatOBJ,
	}}}}
	o, store := newOrchestrator(backend, &recorder{}, 0)

	out, err := o.Edit(context.Background(), "make it blue")
	require.NoError(t, err)
	assert.Equal(t, "make it blue", *out.Description, "no prior description")
	assert.Equal(t, []string{"make it blue"}, backend.images)
	assert.Len(t, store.Snapshot().EditHistory, 1)
}

func TestEditFailureRecordsErrorOnly(t *testing.T) {
	backend := &scriptedBackend{imageErr: errors.New("image vendor down")}
	o, store := newOrchestrator(backend, &recorder{}, 0)
	ctx := context.Background()
	desc := "a red mug"
	require.NoError(t, store.SetCurrentDescription(ctx, &desc))

	_, err := o.Edit(ctx, "make it blue")
	require.Error(t, err)

	state := store.Snapshot()
	assert.Empty(t, state.EditHistory)
	require.Len(t, state.Messages, 2)
	assert.Contains(t, state.Messages[1].Content, "Error: ")
	assert.Contains(t, state.Messages[1].Content, "image vendor down")
	assert.Equal(t, "a red mug", *state.CurrentDescription)
	assert.False(t, state.HasModel())
	assert.Nil(t, state.SourceImage)
}

func TestRewriteMeshURL(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		proxy string
		want  string
	}{
		{"relative sample", "/samples/cube.obj", "", "/samples/cube.obj"},
		{"relative asset", "/assets/meshes/hf-1/model.obj", "", "/assets/meshes/hf-1/model.obj"},
		{"https", "https://x.example/m.glb", "", "/proxy?url=https%3A%2F%2Fx.example%2Fm.glb"},
		{"http upper case", "HTTP://x.example/m.glb", "/proxy", "/proxy?url=HTTP%3A%2F%2Fx.example%2Fm.glb"},
		{"custom proxy", "https://x.example/m.glb", "http://localhost:8080/proxy", "http://localhost:8080/proxy?url=https%3A%2F%2Fx.example%2Fm.glb"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RewriteMeshURL(tc.raw, tc.proxy))
		})
	}
}
