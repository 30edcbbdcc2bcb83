package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/legeling/xianyu-auto-reply/internal/queue"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// ErrEventsUnavailable is returned when no event stream is configured.
var ErrEventsUnavailable = errors.New("account event stream not configured")

type EventLister interface {
	Recent(ctx context.Context, accountID string, limit int64) ([]queue.AccountEvent, error)
}

type EventService interface {
	// Recent lists events for one of the owner's accounts, or for all of
	// them when accountID is empty.
	Recent(ctx context.Context, ownerID int64, accountID string, limit int64) ([]queue.AccountEvent, error)
}

type eventService struct {
	events EventLister
	reader AccountReader
}

func NewEventService(events EventLister, reader AccountReader) EventService {
	return &eventService{events: events, reader: reader}
}

func (s *eventService) Recent(ctx context.Context, ownerID int64, accountID string, limit int64) ([]queue.AccountEvent, error) {
	if s.events == nil {
		return nil, ErrEventsUnavailable
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)

	if accountID != "" {
		acct, err := s.reader.GetAccount(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("loading account %s: %w", accountID, err)
		}
		if acct.OwnerID != ownerID {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrForbidden)
		}
		return s.events.Recent(ctx, accountID, limit)
	}

	owned, err := s.reader.GetAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	ids := make(map[string]struct{}, len(owned))
	for _, a := range owned {
		ids[a.ID] = struct{}{}
	}

	all, err := s.events.Recent(ctx, "", limit*int64(max(len(owned), 1)))
	if err != nil {
		return nil, err
	}
	out := make([]queue.AccountEvent, 0, limit)
	for _, ev := range all {
		if _, ok := ids[ev.AccountID]; !ok {
			continue
		}
		out = append(out, ev)
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}
