package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/legeling/xianyu-auto-reply/core/db"
	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

const accountColumns = `id, owner_id, credential, credential_version, enabled, auto_confirm,
	pause_minutes, remark, created_at, updated_at`

type accountStore struct {
	q db.DBTX
}

func newAccountStore(q db.DBTX) AccountStore {
	return &accountStore{q: q}
}

func (s *accountStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return acct, nil
}

func (s *accountStore) GetAccountsByOwner(ctx context.Context, ownerID int64) ([]model.Account, error) {
	return s.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
}

func (s *accountStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.list(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
}

func (s *accountStore) ListEnabledAccounts(ctx context.Context) ([]model.Account, error) {
	return s.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE enabled ORDER BY created_at, id`)
}

func (s *accountStore) list(ctx context.Context, query string, args ...any) ([]model.Account, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, *acct)
	}
	return out, rows.Err()
}

func (s *accountStore) SaveAccount(ctx context.Context, account *model.Account) error {
	row := s.q.QueryRow(ctx, `
		INSERT INTO accounts (id, owner_id, credential, enabled, auto_confirm, pause_minutes, remark)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			credential = EXCLUDED.credential,
			credential_version = CASE
				WHEN accounts.credential <> EXCLUDED.credential THEN accounts.credential_version + 1
				ELSE accounts.credential_version
			END,
			enabled = EXCLUDED.enabled,
			auto_confirm = EXCLUDED.auto_confirm,
			pause_minutes = EXCLUDED.pause_minutes,
			remark = EXCLUDED.remark,
			updated_at = now()
		RETURNING `+accountColumns,
		account.ID, account.OwnerID, []byte(account.Credential), account.Enabled,
		account.AutoConfirm, account.PauseMinutes, account.Remark,
	)
	saved, err := scanAccount(row)
	if err != nil {
		return mapErr(err)
	}
	*account = *saved
	return nil
}

// DeleteAccount is a no-op for unknown ids. Rules, policy and records
// cascade.
func (s *accountStore) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return mapErr(err)
}

func (s *accountStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return requireRow(s.q.Exec(ctx, `UPDATE accounts SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled))
}

func (s *accountStore) SetAutoConfirm(ctx context.Context, id string, enabled bool) error {
	return requireRow(s.q.Exec(ctx, `UPDATE accounts SET auto_confirm = $2, updated_at = now() WHERE id = $1`, id, enabled))
}

func (s *accountStore) SetPauseDuration(ctx context.Context, id string, minutes int) error {
	return requireRow(s.q.Exec(ctx, `UPDATE accounts SET pause_minutes = $2, updated_at = now() WHERE id = $1`, id, minutes))
}

func (s *accountStore) SetRemark(ctx context.Context, id string, remark string) error {
	return requireRow(s.q.Exec(ctx, `UPDATE accounts SET remark = $2, updated_at = now() WHERE id = $1`, id, remark))
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		acct model.Account
		cred []byte
	)
	if err := row.Scan(
		&acct.ID,
		&acct.OwnerID,
		&cred,
		&acct.CredentialVersion,
		&acct.Enabled,
		&acct.AutoConfirm,
		&acct.PauseMinutes,
		&acct.Remark,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	); err != nil {
		return nil, err
	}
	acct.Credential = credential.Blob(cred)
	return &acct, nil
}
