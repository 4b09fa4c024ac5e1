package jobstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itera/internal/domain"
)

func TestSimulatedProgress(t *testing.T) {
	tests := []struct {
		elapsed  time.Duration
		duration time.Duration
		want     int
	}{
		{0, 2 * time.Second, 0},
		{500 * time.Millisecond, 2 * time.Second, 25},
		{1999 * time.Millisecond, 2 * time.Second, 95},
		{5 * time.Second, 2 * time.Second, 95},
		{time.Second, 0, 95},
	}
	for _, tc := range tests {
		if got := SimulatedProgress(tc.elapsed, tc.duration); got != tc.want {
			t.Fatalf("SimulatedProgress(%v, %v) = %d, want %d", tc.elapsed, tc.duration, got, tc.want)
		}
	}
}

func TestSimulatedProgressMonotonic(t *testing.T) {
	last := -1
	for ms := 0; ms <= 3000; ms += 37 {
		p := SimulatedProgress(time.Duration(ms)*time.Millisecond, 2*time.Second)
		if p < last {
			t.Fatalf("progress went backwards at %dms: %d < %d", ms, p, last)
		}
		if p >= 100 {
			t.Fatalf("progress reached %d", p)
		}
		last = p
	}
}

func TestRecordCloneIsolatesData(t *testing.T) {
	rec := Record{
		Data:   map[string]any{"prompt": "mug"},
		Result: &domain.MeshResult{MeshFileURL: "/a.obj", Metadata: &domain.MeshMetadata{Faces: domain.IntPtr(12)}},
	}
	cp := rec.Clone()
	cp.Data["prompt"] = "vase"
	*cp.Result.Metadata.Faces = 1
	if rec.Data["prompt"] != "mug" {
		t.Fatalf("clone shares data map")
	}
	if *rec.Result.Metadata.Faces != 12 {
		t.Fatalf("clone shares metadata")
	}
}

// runStoreSuite exercises the Store contract shared by every backend.
func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set and get", func(t *testing.T) {
		rec := Record{
			Status:    domain.JobStatusProcessing,
			Progress:  10,
			CreatedAt: created,
			Data:      map[string]any{"prompt": "a red mug"},
		}
		require.NoError(t, store.Set(ctx, "job-1", rec))

		got, ok, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.JobStatusProcessing, got.Status)
		assert.Equal(t, 10, got.Progress)
		assert.True(t, created.Equal(got.CreatedAt))
		assert.Equal(t, "a red mug", got.Data["prompt"])
	})

	t.Run("update", func(t *testing.T) {
		got, err := store.Update(ctx, "job-1", func(rec *Record) error {
			rec.Status = domain.JobStatusComplete
			rec.Progress = 100
			rec.Result = &domain.MeshResult{MeshFileURL: "/samples/cube.obj", Format: domain.MeshFormatOBJ}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusComplete, got.Status)

		stored, ok, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NotNil(t, stored.Result)
		assert.Equal(t, "/samples/cube.obj", stored.Result.MeshFileURL)
		assert.Equal(t, domain.MeshFormatOBJ, stored.Result.Format)
	})

	t.Run("update error leaves record", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := store.Update(ctx, "job-1", func(rec *Record) error {
			rec.Status = domain.JobStatusFailed
			return boom
		})
		require.ErrorIs(t, err, boom)

		stored, _, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusComplete, stored.Status)
	})

	t.Run("update missing", func(t *testing.T) {
		_, err := store.Update(ctx, "nope", func(rec *Record) error { return nil })
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "job-1"))
		_, ok, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, "j", Record{Data: map[string]any{"k": "v"}}))

	got, _, _ := store.Get(ctx, "j")
	got.Data["k"] = "changed"

	again, _, _ := store.Get(ctx, "j")
	assert.Equal(t, "v", again.Data["k"])
}

func TestMemoryUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, "j", Record{Status: domain.JobStatusProcessing}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "j", func(rec *Record) error {
				rec.Progress++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}
