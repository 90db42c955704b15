package sqlinline

// QWorkerClaimStaleBatch picks one ingested batch whose dispatch never started,
// or one whose processing run went quiet before $2, and bumps updated_at so
// concurrent sweepers skip it for another grace period.
const QWorkerClaimStaleBatch = `--sql 529cc239-14d9-4600-901c-ed925002c8f7
with next_batch as (
    select id
    from batches
    where ingested_at is not null
      and ((status = 'queued' and updated_at < $1::timestamptz)
        or (status = 'processing' and updated_at < $2::timestamptz))
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update batches
    set updated_at = now()
    where id in (select id from next_batch)
    returning id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
              credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at
)
select * from updated;
`

// QWorkerListAbandonedBatches lists batches whose submission never finished
// ingesting, so their charge is still held.
const QWorkerListAbandonedBatches = `--sql 4f06003e-8e5d-4937-b415-22f607c33c7d
select id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
       credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at
from batches
where status = 'queued'
  and ingested_at is null
  and created_at < $1::timestamptz
order by created_at asc
limit $2::int;
`
