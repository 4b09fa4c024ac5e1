package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"itera/internal/domain"
	"itera/internal/infra"
	"itera/internal/sqlinline"
)

// Postgres keeps one mesh_jobs row per job.
type Postgres struct {
	db  infra.TxRunner
	ttl time.Duration
	now func() time.Time
}

func NewPostgres(db infra.TxRunner, ttl time.Duration) *Postgres {
	return &Postgres{db: db, ttl: ttl, now: time.Now}
}

// EnsureSchema creates the mesh_jobs table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, sqlinline.QCreateMeshJobsTable); err != nil {
		return fmt.Errorf("create mesh_jobs: %w", err)
	}
	return nil
}

func (p *Postgres) Set(ctx context.Context, id string, rec Record) error {
	return p.upsert(ctx, p.db, id, rec)
}

func (p *Postgres) Get(ctx context.Context, id string) (Record, bool, error) {
	rec, err := scanRecord(p.db.QueryRow(ctx, sqlinline.QSelectMeshJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("select job %s: %w", id, err)
	}
	return rec, true, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, sqlinline.QDeleteMeshJob, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed and reports how many
// went. Reads already hide them; this only reclaims space.
func (p *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.db.Exec(ctx, sqlinline.QPurgeExpiredMeshJobs, p.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) Update(ctx context.Context, id string, fn UpdateFunc) (Record, error) {
	var out Record
	err := p.db.InTx(ctx, func(tx infra.SQLExecutor) error {
		rec, err := scanRecord(tx.QueryRow(ctx, sqlinline.QSelectMeshJobForUpdate, id))
		if err != nil {
			if infra.IsNoRows(err) {
				return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
			}
			return fmt.Errorf("lock job %s: %w", id, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		if err := p.upsert(ctx, tx, id, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (p *Postgres) upsert(ctx context.Context, db infra.SQLExecutor, id string, rec Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode job data %s: %w", id, err)
	}
	var result []byte
	if rec.Result != nil {
		result, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encode job result %s: %w", id, err)
		}
	}
	var expiresAt *time.Time
	if p.ttl > 0 {
		t := p.now().Add(p.ttl)
		expiresAt = &t
	}
	_, err = db.Exec(ctx, sqlinline.QUpsertMeshJob,
		id,
		string(rec.Status),
		rec.Progress,
		rec.CreatedAt,
		data,
		result,
		rec.Error,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec      Record
		status   string
		progress *int
		data     []byte
		result   []byte
	)
	if err := row.Scan(&status, &progress, &rec.CreatedAt, &data, &result, &rec.Error); err != nil {
		return Record{}, err
	}
	rec.Status = domain.JobStatus(status)
	if progress != nil {
		rec.Progress = *progress
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return Record{}, fmt.Errorf("decode job data: %w", err)
		}
	}
	if len(result) > 0 && string(result) != "null" {
		var res domain.MeshResult
		if err := json.Unmarshal(result, &res); err != nil {
			return Record{}, fmt.Errorf("decode job result: %w", err)
		}
		rec.Result = &res
	}
	return rec, nil
}

var _ Store = (*Postgres)(nil)
