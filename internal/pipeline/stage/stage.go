// Package stage models the progress of the initial generation flow as a
// closed set of variants, each with its own set of valid statuses.
package stage

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindUpload          Kind = "upload"
	KindImageGeneration Kind = "image_generation"
	KindMeshGeneration  Kind = "mesh_generation"
	KindReady           Kind = "ready"
)

type Status string

const (
	StatusStarted    Status = "started"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Stage is implemented only by the variants in this package.
type Stage interface {
	Kind() Kind
	Status() Status
	sealed()
}

// Upload records the source image. It never touches the network.
type Upload struct {
	State Status
}

type ImageGeneration struct {
	State Status
}

// MeshGeneration carries the provider's progress percentage when known.
type MeshGeneration struct {
	State    Status
	Progress *int
}

type Ready struct {
	State Status
}

func (s Upload) Kind() Kind     { return KindUpload }
func (s Upload) Status() Status { return s.State }
func (Upload) sealed()          {}

func (s ImageGeneration) Kind() Kind     { return KindImageGeneration }
func (s ImageGeneration) Status() Status { return s.State }
func (ImageGeneration) sealed()          {}

func (s MeshGeneration) Kind() Kind     { return KindMeshGeneration }
func (s MeshGeneration) Status() Status { return s.State }
func (MeshGeneration) sealed()          {}

func (s Ready) Kind() Kind     { return KindReady }
func (s Ready) Status() Status { return s.State }
func (Ready) sealed()          {}

var (
	uploadStatuses = []Status{StatusStarted, StatusComplete}
	workStatuses   = []Status{StatusStarted, StatusProcessing, StatusComplete, StatusFailed}
	readyStatuses  = []Status{StatusStarted, StatusComplete}
)

// Validate reports whether the variant's status is one it may carry.
func Validate(s Stage) error {
	var allowed []Status
	switch v := s.(type) {
	case Upload:
		allowed = uploadStatuses
	case ImageGeneration:
		allowed = workStatuses
	case MeshGeneration:
		allowed = workStatuses
		if v.Progress != nil && (*v.Progress < 0 || *v.Progress > 100) {
			return fmt.Errorf("stage: progress %d out of range", *v.Progress)
		}
	case Ready:
		allowed = readyStatuses
	case nil:
		return fmt.Errorf("stage: nil stage")
	default:
		return fmt.Errorf("stage: unknown variant %T", s)
	}
	for _, st := range allowed {
		if st == s.Status() {
			return nil
		}
	}
	return fmt.Errorf("stage: status %q is not valid for %s", s.Status(), s.Kind())
}

// Failed returns s moved to the failed status, or false when the variant
// cannot fail.
func Failed(s Stage) (Stage, bool) {
	switch v := s.(type) {
	case ImageGeneration:
		v.State = StatusFailed
		return v, true
	case MeshGeneration:
		v.State = StatusFailed
		return v, true
	}
	return s, false
}

type wire struct {
	Stage    Kind   `json:"stage"`
	Status   Status `json:"status"`
	Progress *int   `json:"progress,omitempty"`
}

// Value wraps a Stage for JSON documents. The zero Value encodes as null.
type Value struct {
	Stage Stage
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Stage == nil {
		return []byte("null"), nil
	}
	if err := Validate(v.Stage); err != nil {
		return nil, err
	}
	w := wire{Stage: v.Stage.Kind(), Status: v.Stage.Status()}
	if m, ok := v.Stage.(MeshGeneration); ok {
		w.Progress = m.Progress
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		v.Stage = nil
		return nil
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var s Stage
	switch w.Stage {
	case KindUpload:
		s = Upload{State: w.Status}
	case KindImageGeneration:
		s = ImageGeneration{State: w.Status}
	case KindMeshGeneration:
		s = MeshGeneration{State: w.Status, Progress: w.Progress}
	case KindReady:
		s = Ready{State: w.Status}
	default:
		return fmt.Errorf("stage: unknown stage %q", w.Stage)
	}
	if err := Validate(s); err != nil {
		return err
	}
	v.Stage = s
	return nil
}
