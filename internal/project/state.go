// Package project holds the durable aggregate describing the model being
// iterated on: the current model, its source image and description, and the
// append-only edit and chat logs.
package project

import (
	"time"

	"itera/internal/domain"
	"itera/internal/pipeline/stage"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// EditEntry records one successful edit.
type EditEntry struct {
	ID           string    `json:"id"`
	Instruction  string    `json:"instruction"`
	NewPrompt    string    `json:"newPrompt"`
	ImageDataURL string    `json:"imageDataUrl"`
	MeshURL      string    `json:"meshUrl"`
	Timestamp    time.Time `json:"timestamp"`
}

// EditInput is what callers supply; ID and Timestamp are assigned by Store.
type EditInput struct {
	Instruction  string
	NewPrompt    string
	ImageDataURL string
	MeshURL      string
}

// State is the persisted snapshot. The in-flight flag lives on Store and is
// never written out.
type State struct {
	PipelineStage      stage.Value       `json:"pipelineStage"`
	SourceImage        *string           `json:"sourceImage"`
	CurrentDescription *string           `json:"currentDescription"`
	ModelURL           *string           `json:"modelUrl"`
	MaterialURL        *string           `json:"mtlUrl"`
	ModelFormat        domain.MeshFormat `json:"modelFormat,omitempty"`
	EditHistory        []EditEntry       `json:"editHistory"`
	Messages           []Message         `json:"messages"`
}

// Empty is the default state used at first start and after Reset.
func Empty() State {
	return State{
		EditHistory: []EditEntry{},
		Messages:    []Message{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.SourceImage = cloneString(s.SourceImage)
	out.CurrentDescription = cloneString(s.CurrentDescription)
	out.ModelURL = cloneString(s.ModelURL)
	out.MaterialURL = cloneString(s.MaterialURL)
	out.EditHistory = append([]EditEntry{}, s.EditHistory...)
	out.Messages = append([]Message{}, s.Messages...)
	return out
}

// HasModel reports whether a model has been generated.
func (s State) HasModel() bool {
	return s.ModelURL != nil && *s.ModelURL != ""
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func stringPtr(v string) *string {
	return &v
}
