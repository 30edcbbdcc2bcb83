package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/legeling/xianyu-auto-reply/core/db"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

type keywordStore struct {
	q db.DBTX
}

func newKeywordStore(q db.DBTX) KeywordStore {
	return &keywordStore{q: q}
}

func (s *keywordStore) GetKeywordRules(ctx context.Context, accountID string) ([]model.KeywordRule, error) {
	rows, err := s.q.Query(ctx, `
		SELECT account_id, item_id, keyword, reply, kind, image_url, position
		FROM keyword_rules
		WHERE account_id = $1
		ORDER BY position, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying keyword rules: %w", err)
	}
	defer rows.Close()

	var out []model.KeywordRule
	for rows.Next() {
		var (
			r    model.KeywordRule
			kind string
		)
		if err := rows.Scan(&r.AccountID, &r.ItemID, &r.Keyword, &r.Reply, &kind, &r.ImageURL, &r.Position); err != nil {
			return nil, fmt.Errorf("scanning keyword rule: %w", err)
		}
		r.Kind = model.KeywordKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceTextKeywordRules deletes the text rules and appends rules after
// whatever image rules remain, matching the order a fresh insert would get.
func (s *keywordStore) ReplaceTextKeywordRules(ctx context.Context, accountID string, rules []model.KeywordRule) error {
	return pgx.BeginFunc(ctx, s.q, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM keyword_rules WHERE account_id = $1 AND kind = 'text'`, accountID); err != nil {
			return fmt.Errorf("deleting text rules: %w", err)
		}

		var next int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM keyword_rules WHERE account_id = $1`, accountID,
		).Scan(&next); err != nil {
			return fmt.Errorf("reading next position: %w", err)
		}

		for i, r := range rules {
			if _, err := tx.Exec(ctx, `
				INSERT INTO keyword_rules (account_id, item_id, keyword, reply, kind, image_url, position)
				VALUES ($1, $2, $3, $4, 'text', '', $5)`,
				accountID, nullableItem(r.ItemID), r.Keyword, r.Reply, next+i,
			); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

func (s *keywordStore) AddImageKeywordRule(ctx context.Context, rule *model.KeywordRule) error {
	err := s.q.QueryRow(ctx, `
		INSERT INTO keyword_rules (account_id, item_id, keyword, reply, kind, image_url, position)
		VALUES ($1, $2, $3, '', 'image', $4,
			(SELECT COALESCE(MAX(position) + 1, 0) FROM keyword_rules WHERE account_id = $1))
		RETURNING position`,
		rule.AccountID, nullableItem(rule.ItemID), rule.Keyword, rule.ImageURL,
	).Scan(&rule.Position)
	if err != nil {
		return mapErr(err)
	}
	rule.Kind = model.KeywordKindImage
	return nil
}

func (s *keywordStore) DeleteKeywordRule(ctx context.Context, accountID string, scope model.RuleScope) error {
	return requireRow(s.q.Exec(ctx, `
		DELETE FROM keyword_rules
		WHERE account_id = $1 AND keyword = $2 AND COALESCE(item_id, '') = $3`,
		accountID, scope.Keyword, scope.ItemID,
	))
}

func nullableItem(itemID *string) *string {
	if itemID == nil || *itemID == "" {
		return nil
	}
	return itemID
}
