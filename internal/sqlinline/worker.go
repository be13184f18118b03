package sqlinline

const QDeleteExpiredReactionJobs = `--sql 70dd38b2-7e77-4fb6-a7fe-db482adead7a
delete from reaction_jobs
where created_at < $1::timestamptz
  and status in ('succeeded', 'failed');
`

const QPromoteStaleQueuedJobs = `--sql 41db2219-ee82-4057-b370-69be2a891e7c
update reaction_jobs
set status = 'running'
where status = 'queued'
  and updated_at < $1::timestamptz
returning id::text;
`

const QFailStaleRunningJobs = `--sql 847981cc-a6a7-483c-9095-d81529b875c0
update reaction_jobs
set status = 'failed', error = $2::text, updated_at = now()
where status = 'running'
  and updated_at < $1::timestamptz
returning id::text;
`
