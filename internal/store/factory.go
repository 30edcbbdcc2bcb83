package store

import (
	"github.com/legeling/xianyu-auto-reply/core/db"
)

type Stores struct {
	q db.DBTX
}

func NewStores(q db.DBTX) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Accounts() AccountStore {
	return newAccountStore(s.q)
}

func (s *Stores) Keywords() KeywordStore {
	return newKeywordStore(s.q)
}

func (s *Stores) DefaultReplies() DefaultReplyStore {
	return newDefaultReplyStore(s.q)
}

func (s *Stores) Owners() OwnerStore {
	return newOwnerStore(s.q)
}

type combined struct {
	AccountStore
	KeywordStore
	DefaultReplyStore
}

// All returns one value satisfying Store.
func (s *Stores) All() Store {
	return combined{
		AccountStore:      s.Accounts(),
		KeywordStore:      s.Keywords(),
		DefaultReplyStore: s.DefaultReplies(),
	}
}
