package sqlinline

const QSelectIntegrationToken = `--sql 40cff681-dc25-4cc0-8fd4-f1b5fb5ba9e8
select token
from integration_tokens
where provider = lower($1::text)
limit 1;
`

const QUpsertIntegrationToken = `--sql 41779a0c-b347-4aac-9a38-367484dd381b
insert into integration_tokens (provider, token, properties, created_at, updated_at)
values (lower($1::text), $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
