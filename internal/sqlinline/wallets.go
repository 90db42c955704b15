package sqlinline

const QEnsureWallet = `--sql 659d215a-647a-4474-ad2f-7bdf79bf5755
insert into wallets (user_id, monthly_balance, topup_balance, used_this_cycle, updated_at)
values ($1::text, 0, 0, 0, now())
on conflict (user_id) do nothing;
`

const QSelectWallet = `--sql ef2adcb3-ff30-44fc-a9ff-ecf9071a3e75
select user_id, monthly_balance, topup_balance, used_this_cycle, updated_at
from wallets
where user_id = $1::text;
`

const QSelectWalletForUpdate = `--sql f965eeb1-e2e6-4d0e-939d-8f1bf24e82c0
select user_id, monthly_balance, topup_balance, used_this_cycle, updated_at
from wallets
where user_id = $1::text
for update;
`

const QUpdateWalletBalances = `--sql 63f03f52-b053-463f-a2ca-a9069ffea3a2
update wallets
set monthly_balance = $2::bigint,
    topup_balance = $3::bigint,
    used_this_cycle = $4::bigint,
    updated_at = now()
where user_id = $1::text
returning updated_at;
`

const QInsertLedgerEntry = `--sql fbe6b347-ae1b-4929-93fe-8a2effe6554c
insert into ledger_entries (id, user_id, amount, monthly_delta, topup_delta, balance_after, source, reference, created_at)
values ($1::uuid, $2::text, $3::bigint, $4::bigint, $5::bigint, $6::bigint, $7::text, $8::text, now())
returning created_at;
`

const QListLedgerEntries = `--sql a3e2811a-d9bc-4f6c-9564-efd9f2bf0cec
select id::text, user_id, amount, monthly_delta, topup_delta, balance_after, source, reference, created_at
from ledger_entries
where user_id = $1::text
order by created_at desc, seq desc
limit $2::int;
`

const QSelectOutstandingCharge = `--sql de22bff6-8787-433e-bf1d-5d09056a3e52
select coalesce(-sum(monthly_delta), 0)::bigint, coalesce(-sum(topup_delta), 0)::bigint
from ledger_entries
where user_id = $1::text
  and reference = $2::text
  and source in ('charge', 'refund');
`
