package sqlinline

const QInsertNotification = `--sql a0cfd383-df6f-4ccf-abd9-ceec9e3c0645
insert into notifications (id, user_id, batch_id, kind, title, body, created_at)
values ($1::uuid, $2::text, nullif($3::text, '')::uuid, $4::text, $5::text, $6::text, now())
returning created_at;
`

const QListNotifications = `--sql 34283bad-1311-492e-bccc-1e7e09cdd00b
select id::text, user_id, coalesce(batch_id::text, ''), kind, title, body, created_at
from notifications
where user_id = $1::text
order by created_at desc
limit $2::int;
`
