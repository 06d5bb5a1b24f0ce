package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
)

type cardStore struct {
	db *scratchCardTable
}

var _ scratchcard.Store = (*cardStore)(nil) // interface compliance check

func NewScratchCardStore(db *DB) *cardStore {
	return &cardStore{db: db.scratchCard}
}

// latest must be called with the lock held.
func (s *cardStore) latest(pin string) (*scratchcard.ScratchCard, bool) {
	ids := s.db.byPin[pin]
	if len(ids) == 0 {
		return nil, false
	}
	return s.db.table[ids[len(ids)-1]], true
}

func (s *cardStore) FindByPin(_ context.Context, pin string) (scratchcard.ScratchCard, error) {
	s.db.mutex.RLock()
	defer s.db.mutex.RUnlock()

	if card, ok := s.latest(pin); ok {
		return *card, nil
	}
	return scratchcard.ScratchCard{}, scratchcard.ErrNotFound
}

func (s *cardStore) TryIncrementUsage(
	_ context.Context, id string, apply func(card *scratchcard.ScratchCard) error,
) (scratchcard.ScratchCard, error) {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	stored, ok := s.db.table[id]
	if !ok {
		return scratchcard.ScratchCard{}, scratchcard.ErrNotFound
	}
	card := *stored
	if err := apply(&card); err != nil {
		return scratchcard.ScratchCard{}, err
	}
	*stored = card
	return card, nil
}

func (s *cardStore) InsertBatch(_ context.Context, cards []scratchcard.ScratchCard, now time.Time) error {
	s.db.mutex.Lock()
	defer s.db.mutex.Unlock()

	var collisions []string
	for _, card := range cards {
		if live, ok := s.latest(card.Pin); ok && !live.IsExpired(now) {
			collisions = append(collisions, card.Pin)
		}
	}
	if len(collisions) > 0 {
		return &scratchcard.PinCollisionError{Pins: collisions}
	}

	for _, card := range cards {
		c := card
		s.db.table[c.ID] = &c
		s.db.byPin[c.Pin] = append(s.db.byPin[c.Pin], c.ID)
	}
	return nil
}

func (s *cardStore) QueryCards(
	_ context.Context, filter scratchcard.QueryFilter, ordering []core.DBOrdering,
) ([]scratchcard.ScratchCard, error) {
	s.db.mutex.RLock()
	cards := make([]scratchcard.ScratchCard, 0, len(s.db.table))
	for _, card := range s.db.table {
		if filter.Matches(*card) {
			cards = append(cards, *card)
		}
	}
	s.db.mutex.RUnlock()

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "issued_at"}}
	}
	sort.SliceStable(cards, func(i, j int) bool {
		for _, ord := range ordering {
			if c := compareCards(cards[i], cards[j], ord.Field); c != 0 {
				if ord.Ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return cards[i].ID < cards[j].ID
	})
	return cards, nil
}

func compareCards(a, b scratchcard.ScratchCard, field string) int {
	switch field {
	case "issued_at":
		switch {
		case a.IssuedAt.Before(b.IssuedAt):
			return -1
		case a.IssuedAt.After(b.IssuedAt):
			return 1
		}
	case "usage_count":
		return a.UsageCount - b.UsageCount
	}
	return 0
}
