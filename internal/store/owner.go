package store

import (
	"context"

	"github.com/legeling/xianyu-auto-reply/core/db"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

type ownerStore struct {
	q db.DBTX
}

func newOwnerStore(q db.DBTX) OwnerStore {
	return &ownerStore{q: q}
}

func (s *ownerStore) GetByID(ctx context.Context, id int64) (*model.Owner, error) {
	var o model.Owner
	err := s.q.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM owners WHERE id = $1`, id,
	).Scan(&o.ID, &o.Username, &o.PasswordHash, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (s *ownerStore) GetByUsername(ctx context.Context, username string) (*model.Owner, error) {
	var o model.Owner
	err := s.q.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM owners WHERE username = $1`, username,
	).Scan(&o.ID, &o.Username, &o.PasswordHash, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (s *ownerStore) Create(ctx context.Context, owner *model.Owner) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO owners (id, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		owner.ID, owner.Username, owner.PasswordHash,
	).Scan(&owner.CreatedAt)
	return mapErr(err)
}

func (s *ownerStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return requireRow(s.q.Exec(ctx, `UPDATE owners SET password_hash = $2 WHERE id = $1`, id, hash))
}
