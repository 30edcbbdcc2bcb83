package store

import (
	"context"

	"github.com/legeling/xianyu-auto-reply/core/db"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

type defaultReplyStore struct {
	q db.DBTX
}

func newDefaultReplyStore(q db.DBTX) DefaultReplyStore {
	return &defaultReplyStore{q: q}
}

func (s *defaultReplyStore) GetDefaultReplyPolicy(ctx context.Context, accountID string) (*model.DefaultReplyPolicy, error) {
	p := model.DefaultReplyPolicy{AccountID: accountID}
	err := s.q.QueryRow(ctx,
		`SELECT enabled, reply_text, reply_once FROM default_reply_policies WHERE account_id = $1`, accountID,
	).Scan(&p.Enabled, &p.Text, &p.Once)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *defaultReplyStore) SaveDefaultReplyPolicy(ctx context.Context, p model.DefaultReplyPolicy) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO default_reply_policies (account_id, enabled, reply_text, reply_once)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			reply_text = EXCLUDED.reply_text,
			reply_once = EXCLUDED.reply_once`,
		p.AccountID, p.Enabled, p.Text, p.Once)
	return mapErr(err)
}

func (s *defaultReplyStore) HasDefaultReplyRecord(ctx context.Context, accountID, conversationID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM default_reply_records WHERE account_id = $1 AND conversation_id = $2)`,
		accountID, conversationID,
	).Scan(&exists)
	return exists, mapErr(err)
}

func (s *defaultReplyStore) InsertDefaultReplyRecord(ctx context.Context, accountID, conversationID string) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO default_reply_records (account_id, conversation_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, accountID, conversationID)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *defaultReplyStore) DeleteDefaultReplyRecord(ctx context.Context, accountID, conversationID string) error {
	_, err := s.q.Exec(ctx,
		`DELETE FROM default_reply_records WHERE account_id = $1 AND conversation_id = $2`,
		accountID, conversationID)
	return mapErr(err)
}

func (s *defaultReplyStore) ClearDefaultReplyRecords(ctx context.Context, accountID string) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM default_reply_records WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
