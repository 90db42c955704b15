package sqlinline

const QInsertBatch = `--sql 129c51c8-4ede-4428-933c-b5e445acdf2b
insert into batches (id, user_id, mode, shape, locale, status, total_items, completed_count, failed_count, credits_charged, error_message, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, 'queued', $6::int, 0, 0, $7::bigint, '', now(), now())
returning created_at, updated_at;
`

const QFinalizeBatchIngestion = `--sql 4ae0b0de-26fe-4bcf-a1d2-f2ab3554ba81
update batches
set total_items = $2::int,
    credits_charged = $3::bigint,
    ingested_at = now(),
    updated_at = now()
where id = $1::uuid
  and ingested_at is null
returning id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
          credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at;
`

const QFailBatchIngestion = `--sql da44e006-d79c-417a-8e5e-538197b6a6dc
update batches
set status = 'failed',
    total_items = 0,
    credits_charged = 0,
    error_message = $2::text,
    ingested_at = now(),
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and ingested_at is null
returning id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
          credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at;
`

const QSelectBatch = `--sql 5e7c9acc-0ce6-475e-a79d-d344de383add
select id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
       credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at
from batches
where id = $1::uuid;
`

const QListBatchesByUser = `--sql 4e07d558-c2d6-417d-b81e-2118e8cd5b05
select id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
       credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at
from batches
where user_id = $1::text
order by created_at desc
limit $2::int;
`

const QStartBatch = `--sql bbb3aefe-2bbb-409c-8d61-dca89c838095
update batches
set status = 'processing',
    started_at = coalesce(started_at, now()),
    updated_at = now()
where id = $1::uuid
  and status = 'queued'
returning id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
          credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at;
`

// QRecordItemOutcome increments a counter and compares against total_items in
// one statement so concurrent item completions cannot lose an update.
const QRecordItemOutcome = `--sql 0cf492b6-3a4e-43df-94ca-a6eb4871ee40
update batches
set completed_count = completed_count + $2::int,
    failed_count = failed_count + $3::int,
    status = case
        when completed_count + failed_count + $2::int + $3::int = total_items then 'completed'
        else status
    end,
    completed_at = case
        when completed_count + failed_count + $2::int + $3::int = total_items then now()
        else completed_at
    end,
    updated_at = now()
where id = $1::uuid
  and completed_count + failed_count < total_items
returning id::text, user_id, mode, shape, locale, status, total_items, completed_count, failed_count,
          credits_charged, error_message, created_at, updated_at, ingested_at, started_at, completed_at, notified_at;
`

const QMarkBatchNotified = `--sql 150cf6bc-c485-408c-ae98-37694cbc29d6
update batches
set notified_at = now()
where id = $1::uuid
  and notified_at is null;
`

const QClearBatchNotified = `--sql 60150f14-5e5f-44ae-a90a-a743884d7fcb
update batches
set notified_at = null
where id = $1::uuid;
`

const QDeleteBatch = `--sql 49681d45-9758-4b61-9abb-1a499b523e45
delete from batches
where id = $1::uuid;
`
