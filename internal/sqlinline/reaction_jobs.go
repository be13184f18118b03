package sqlinline

const QInsertReactionJob = `--sql 649f8f8e-fe84-4ffc-bc50-c40e76e63019
insert into reaction_jobs (id, session_key, mode, mood, status, created_at, updated_at)
values ($1::uuid, nullif($2::text, ''), $3::text, $4::text, 'queued', now(), now())
on conflict (id) do nothing;
`

const QMarkReactionJobRunning = `--sql ad57d325-6ccf-4267-b894-02114d1da5ad
update reaction_jobs
set status = 'running', updated_at = now()
where id = $1::uuid
  and status in ('queued', 'running');
`

const QCompleteReactionJob = `--sql aa2400a1-f1f2-4882-8ce5-b7d2fe74a094
update reaction_jobs
set status = 'succeeded', video_url = $2::text, error = null, updated_at = now()
where id = $1::uuid
  and (status = 'running' or (status = 'succeeded' and video_url = $2::text));
`

const QFailReactionJob = `--sql b9a1f017-b3a9-43ca-b9e7-28c8971462e7
update reaction_jobs
set status = 'failed', error = $2::text, video_url = null, updated_at = now()
where id = $1::uuid
  and (status = 'running' or (status = 'failed' and error = $2::text));
`

const QSelectReactionJob = `--sql c001e4ae-2380-4230-886b-562f53f713ca
select id::text, coalesce(session_key, ''), mode, mood, status,
       coalesce(video_url, ''), coalesce(error, ''), created_at, updated_at
from reaction_jobs
where id = $1::uuid;
`
