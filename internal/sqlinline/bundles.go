package sqlinline

const QSelectBatchBundle = `--sql c1d90a4b-2871-45ef-87e1-0fe16d1a2dc9
select batch_id::text, user_id, storage_path, signed_url, signed_url_expiry, size_bytes, item_count, created_at
from batch_bundles
where batch_id = $1::uuid;
`

const QUpsertBatchBundle = `--sql 4accf6df-58a5-457d-a954-261ef6b8b6c8
insert into batch_bundles (batch_id, user_id, storage_path, signed_url, signed_url_expiry, size_bytes, item_count, created_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::timestamptz, $6::bigint, $7::int, now())
on conflict (batch_id) do update set
    storage_path = excluded.storage_path,
    signed_url = excluded.signed_url,
    signed_url_expiry = excluded.signed_url_expiry,
    size_bytes = excluded.size_bytes,
    item_count = excluded.item_count,
    created_at = excluded.created_at
returning created_at;
`
