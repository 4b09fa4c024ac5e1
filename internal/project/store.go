package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"itera/internal/domain"
	"itera/internal/pipeline/stage"
)

// ErrBusy is returned by BeginProcessing while another flow is in flight.
var ErrBusy = errors.New("project: a generation is already in progress")

type Options struct {
	Persister Persister
	Logger    zerolog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Store guards the project state. Scalar setters are last-writer-wins, the
// edit and message logs only grow. Every mutation is persisted when a
// Persister is configured.
type Store struct {
	mu         sync.Mutex
	state      State
	processing bool

	persister Persister
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Open rehydrates the store. A missing or unreadable snapshot yields the
// empty state.
func Open(ctx context.Context, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "edit-" + uuid.NewString() }
	}
	s := &Store{
		state:     Empty(),
		persister: opts.Persister,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if s.persister == nil {
		return s
	}
	data, err := s.persister.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("project snapshot unreadable, starting empty")
		}
		return s
	}
	state, err := decodeState(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("project snapshot corrupt, starting empty")
		return s
	}
	s.state = state
	return s
}

func decodeState(data []byte) (State, error) {
	state := Empty()
	if err := json.Unmarshal(data, &state); err != nil {
		return Empty(), err
	}
	if state.ModelFormat != "" && !state.ModelFormat.Valid() {
		return Empty(), fmt.Errorf("unknown model format %q", state.ModelFormat)
	}
	if state.EditHistory == nil {
		state.EditHistory = []EditEntry{}
	}
	if state.Messages == nil {
		state.Messages = []Message{}
	}
	return state, nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) SetPipelineStage(ctx context.Context, st stage.Stage) error {
	if st != nil {
		if err := stage.Validate(st); err != nil {
			return err
		}
	}
	return s.mutate(ctx, func(state *State) {
		state.PipelineStage = stage.Value{Stage: st}
	})
}

// SetSourceImage replaces the source image; an empty image clears it.
func (s *Store) SetSourceImage(ctx context.Context, image string) error {
	return s.mutate(ctx, func(state *State) {
		state.SourceImage = optional(image)
	})
}

// SetCurrentDescription replaces the brief; nil clears it.
func (s *Store) SetCurrentDescription(ctx context.Context, desc *string) error {
	return s.mutate(ctx, func(state *State) {
		state.CurrentDescription = cloneString(desc)
	})
}

func (s *Store) SetModel(ctx context.Context, url, materialURL string, format domain.MeshFormat) error {
	if url == "" {
		return fmt.Errorf("%w: model url is required", domain.ErrInvalidInput)
	}
	if format != "" && !format.Valid() {
		return fmt.Errorf("%w: unknown model format %q", domain.ErrInvalidInput, format)
	}
	return s.mutate(ctx, func(state *State) {
		state.ModelURL = stringPtr(url)
		state.MaterialURL = optional(materialURL)
		state.ModelFormat = format
	})
}

func (s *Store) AddEdit(ctx context.Context, in EditInput) (EditEntry, error) {
	entry := EditEntry{
		ID:           s.newID(),
		Instruction:  in.Instruction,
		NewPrompt:    in.NewPrompt,
		ImageDataURL: in.ImageDataURL,
		MeshURL:      in.MeshURL,
		Timestamp:    s.now().UTC(),
	}
	err := s.mutate(ctx, func(state *State) {
		state.EditHistory = append(state.EditHistory, entry)
	})
	return entry, err
}

func (s *Store) AddMessage(ctx context.Context, role Role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	return s.mutate(ctx, func(state *State) {
		state.Messages = append(state.Messages, Message{Role: role, Content: content})
	})
}

// BeginProcessing raises the in-flight flag, or returns ErrBusy.
func (s *Store) BeginProcessing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return ErrBusy
	}
	s.processing = true
	return nil
}

func (s *Store) EndProcessing() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func (s *Store) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Reset restores the empty state and removes the snapshot.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Empty()
	s.processing = false
	if s.persister == nil {
		return nil
	}
	return s.persister.Clear(ctx)
}

func (s *Store) mutate(ctx context.Context, fn func(state *State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("encode project snapshot: %w", err)
	}
	if err := s.persister.Save(ctx, data); err != nil {
		return fmt.Errorf("save project snapshot: %w", err)
	}
	return nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return stringPtr(v)
}
