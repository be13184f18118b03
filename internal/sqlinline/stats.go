package sqlinline

const QReactionJobStats = `--sql 68311e44-90b2-42d2-a633-04ee1c038459
select
  count(*) as total,
  count(*) filter (where status = 'queued') as queued,
  count(*) filter (where status = 'running') as running,
  count(*) filter (where status = 'succeeded') as succeeded,
  count(*) filter (where status = 'failed') as failed,
  count(*) filter (where created_at > now() - interval '24 hours') as last24h
from reaction_jobs;
`
