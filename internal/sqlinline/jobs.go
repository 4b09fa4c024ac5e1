package sqlinline

const QCreateMeshJobsTable = `--sql 3f6c2a1e-8b4d-4e7a-9c15-2d8e7f0a6b93
create table if not exists mesh_jobs (
  id          text primary key,
  status      text not null,
  progress    int,
  created_at  timestamptz not null,
  data        jsonb not null default '{}'::jsonb,
  result_json jsonb,
  error       text not null default '',
  expires_at  timestamptz,
  updated_at  timestamptz not null default now()
);
`

const QUpsertMeshJob = `--sql 7d0b9e42-5a3c-4f61-8e27-b4c91a6d2f08
insert into mesh_jobs(id, status, progress, created_at, data, result_json, error, expires_at, updated_at)
values ($1::text, $2::text, $3, $4::timestamptz, coalesce($5::jsonb, '{}'::jsonb), $6::jsonb, $7::text, $8, now())
on conflict (id) do update
set status      = excluded.status,
    progress    = excluded.progress,
    created_at  = excluded.created_at,
    data        = excluded.data,
    result_json = excluded.result_json,
    error       = excluded.error,
    expires_at  = excluded.expires_at,
    updated_at  = now();
`

const QSelectMeshJob = `--sql b52e8d17-06f4-4c3a-a9d8-1e7f3c6b4a25
select status, progress, created_at, data, result_json, error
from mesh_jobs
where id = $1::text
  and (expires_at is null or expires_at > now())
limit 1;
`

const QSelectMeshJobForUpdate = `--sql e9a41c6d-2f7b-4d85-b3e0-5c8a9f1d7e62
select status, progress, created_at, data, result_json, error
from mesh_jobs
where id = $1::text
  and (expires_at is null or expires_at > now())
for update;
`

const QDeleteMeshJob = `--sql 1c7f5b38-9e2a-4a06-8d4b-6f3e0a2c9b71
delete from mesh_jobs where id = $1::text;
`

const QPurgeExpiredMeshJobs = `--sql db4b2b57-12ab-4e93-8b1f-6ae40af6ca4e
delete from mesh_jobs
where expires_at is not null
  and expires_at <= $1::timestamptz;
`
