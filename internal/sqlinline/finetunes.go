package sqlinline

const QEnsureFinetunesTable = `--sql 7b12966d-d500-4a23-a0da-34c5cdf4b51d
create table if not exists finetunes (
  id          bigserial primary key,
  label       text not null unique,
  finetune_id text not null,
  created_at  timestamptz not null default now(),
  updated_at  timestamptz not null default now()
)`

// Ordering by id keeps insertion order; overwrites update the row in place.
const QListFinetunes = `--sql cf8c77c8-d940-4f45-b455-e5c088310b10
select label, finetune_id, created_at, updated_at
from finetunes
order by id asc`

const QUpsertFinetune = `--sql c7df70da-9860-4839-9681-ae573d8411c1
with prev as (
  select finetune_id from finetunes where label = $1
)
insert into finetunes(label, finetune_id, created_at, updated_at)
values ($1, $2, now(), now())
on conflict (label) do update
  set finetune_id = excluded.finetune_id,
      updated_at  = now()
returning label, finetune_id, created_at, updated_at,
  coalesce((select finetune_id from prev), '')`
