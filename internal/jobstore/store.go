// Package jobstore keeps mesh job records alive across request cycles for
// providers whose vendor call is synchronous and must look asynchronous.
package jobstore

import (
	"context"
	"encoding/json"
	"maps"
	"math"
	"time"

	"itera/internal/domain"
)

// Record is the state of one mesh job.
type Record struct {
	Status    domain.JobStatus   `json:"status"`
	Progress  int                `json:"progress"`
	CreatedAt time.Time          `json:"createdAt"`
	Data      map[string]any     `json:"data,omitempty"`
	Result    *domain.MeshResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Clone returns a deep enough copy that callers cannot mutate stored state.
func (r Record) Clone() Record {
	out := r
	if r.Data != nil {
		out.Data = maps.Clone(r.Data)
	}
	if r.Result != nil {
		res := *r.Result
		if r.Result.Metadata != nil {
			md := *r.Result.Metadata
			res.Metadata = &md
		}
		out.Result = &res
	}
	return out
}

// UpdateFunc mutates a record in place. Returning an error aborts the update
// and leaves the stored record untouched.
type UpdateFunc func(rec *Record) error

// Store is a keyed registry of job records.
//
// Update is the only way to read-modify-write a record; implementations
// serialize concurrent Updates on the same key.
type Store interface {
	Set(ctx context.Context, id string, rec Record) error
	Get(ctx context.Context, id string) (Record, bool, error)
	Delete(ctx context.Context, id string) error
	// Update returns domain.ErrNotFound when id is absent.
	Update(ctx context.Context, id string, fn UpdateFunc) (Record, error)
}

// SimulatedProgress maps elapsed time onto a percentage that never reaches
// 100 on its own.
func SimulatedProgress(elapsed, duration time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	if duration <= 0 {
		return 95
	}
	p := int(math.Floor(float64(elapsed) / float64(duration) * 100))
	return min(95, p)
}

func encodeRecord(rec Record) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
