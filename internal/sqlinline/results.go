package sqlinline

const QCreateResultsTable = `--sql 3c0f6f0e-6a8b-4d1e-9a57-2b8c9f41d7a3
create table if not exists results (
  id           uuid primary key,
  user_id      text not null,
  template_id  text not null,
  storage_key  text not null unique,
  watermark    boolean not null default true,
  is_paid      boolean not null default false,
  paid_at      timestamptz,
  created_at   timestamptz not null default now()
);
`

const QCreateResultsUserIndex = `--sql 8d2b61c4-0f7e-4a39-b5d2-6e1a9c7f3b08
create index if not exists results_user_id_created_at_idx
  on results (user_id, created_at desc);
`

const QInsertResult = `--sql 5a9e2d17-c4b8-4f60-8e31-7d0b6a2f9c45
insert into results(id, user_id, template_id, storage_key, watermark, created_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::boolean, $6::timestamptz)
on conflict (id) do nothing;
`

const QSelectResultForUser = `--sql e1b47c93-2a5d-4c8f-b6e0-9f3d7a1c2e58
select id::text, user_id, template_id, storage_key, watermark, is_paid, paid_at, created_at
from results
where id = $1::uuid
  and user_id = $2::text
limit 1;
`

const QMarkResultPaid = `--sql 7f3a0c6d-9b1e-4e25-a8d4-1c6b5e2f0a97
update results
set is_paid = true,
    paid_at = coalesce(paid_at, now())
where id = $1::uuid
  and user_id = $2::text;
`
