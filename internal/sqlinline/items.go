package sqlinline

const QInsertBatchItem = `--sql 9592ad4a-9e1c-4a76-ba81-fcb263818b2f
insert into batch_items (id, batch_id, position, original_name, source_path, source_content_type, status, progress, created_at, updated_at)
values ($1::uuid, $2::uuid, $3::int, $4::text, $5::text, $6::text, 'queued', 0, now(), now())
returning created_at, updated_at;
`

const QListBatchItems = `--sql 933d6c22-7ff0-4f51-8d07-dbc39f45aec8
select id::text, batch_id::text, position, original_name, source_path, source_content_type, output_path,
       output_content_type, output_size, status, progress, external_ref, signed_url, signed_url_expires_at,
       error_message, created_at, updated_at, completed_at
from batch_items
where batch_id = $1::uuid
order by position asc;
`

const QListCompletedBatchItems = `--sql bddee3f9-cf5d-4b88-92b3-e78f9595d86d
select id::text, batch_id::text, position, original_name, source_path, source_content_type, output_path,
       output_content_type, output_size, status, progress, external_ref, signed_url, signed_url_expires_at,
       error_message, created_at, updated_at, completed_at
from batch_items
where batch_id = $1::uuid
  and status = 'completed'
order by position asc;
`

const QClaimBatchItem = `--sql 88b19ea4-41fa-4b85-85fe-8cf78200f344
update batch_items
set status = 'processing',
    progress = greatest(progress, 5),
    updated_at = now()
where id = $1::uuid
  and status = 'queued'
returning id::text, batch_id::text, position, original_name, source_path, source_content_type, output_path,
          output_content_type, output_size, status, progress, external_ref, signed_url, signed_url_expires_at,
          error_message, created_at, updated_at, completed_at;
`

const QUpdateBatchItemProgress = `--sql 5fca8f95-d8ed-49de-bd2d-b88f1c00f7b6
update batch_items
set progress = greatest(progress, least($2::int, 100)),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QSetBatchItemExternalRef = `--sql 869270d5-80e9-487e-93bb-11f84f999769
update batch_items
set external_ref = $2::text,
    progress = greatest(progress, least($3::int, 100)),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QCompleteBatchItem = `--sql bce1bbc2-3b65-4fc8-bf6c-8da9c7a2b7b1
update batch_items
set status = 'completed',
    progress = 100,
    output_path = $2::text,
    output_content_type = $3::text,
    output_size = $4::bigint,
    signed_url = $5::text,
    signed_url_expires_at = $6::timestamptz,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status in ('queued', 'processing')
returning batch_id::text;
`

const QFailBatchItem = `--sql feab345c-255a-448f-8ce0-bb948bb67235
update batch_items
set status = 'failed',
    error_message = $2::text,
    completed_at = now(),
    updated_at = now()
where id = $1::uuid
  and status in ('queued', 'processing')
returning batch_id::text;
`

const QSelectBatchIDForItem = `--sql 65790d50-29b8-4fba-a040-4ae2e67e8bfd
select batch_id::text
from batch_items
where id = $1::uuid;
`
