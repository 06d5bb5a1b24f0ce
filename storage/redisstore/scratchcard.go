// Package redisstore implements scratchcard.Store on Redis.
//
// Layout (all keys under the configured prefix):
//
//	card:<id>   JSON encoded card
//	pin:<pin>   id of the most recently issued card with that PIN
//	cards       sorted set of card ids scored by issue time
package redisstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
)

const maxTxRetries = 50

var ErrTooManyRetries = errors.New("redis transaction retries exhausted")

type CardStore struct {
	client redis.UniversalClient
	prefix string
}

var _ scratchcard.Store = (*CardStore)(nil) // interface compliance check

func NewCardStore(client redis.UniversalClient, prefix string) *CardStore {
	if prefix == "" {
		prefix = "masomo:"
	}
	return &CardStore{client: client, prefix: prefix}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis URL")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func (s *CardStore) cardKey(id string) string { return s.prefix + "card:" + id }
func (s *CardStore) pinKey(pin string) string { return s.prefix + "pin:" + pin }
func (s *CardStore) listKey() string          { return s.prefix + "cards" }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getCard(ctx context.Context, c getter, key string) (scratchcard.ScratchCard, error) {
	var card scratchcard.ScratchCard
	raw, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return card, scratchcard.ErrNotFound
	}
	if err != nil {
		return card, errors.Wrap(err, "getting scratch card")
	}
	if err = json.Unmarshal(raw, &card); err != nil {
		return card, errors.Wrap(err, "decoding scratch card")
	}
	return card, nil
}

// retry runs an optimistic transaction until it commits without a concurrent write on the watched keys.
func (s *CardStore) retry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err != redis.TxFailedErr {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrTooManyRetries
}

func (s *CardStore) FindByPin(ctx context.Context, pin string) (scratchcard.ScratchCard, error) {
	id, err := s.client.Get(ctx, s.pinKey(pin)).Result()
	if err == redis.Nil {
		return scratchcard.ScratchCard{}, scratchcard.ErrNotFound
	}
	if err != nil {
		return scratchcard.ScratchCard{}, errors.Wrap(err, "getting PIN")
	}
	return getCard(ctx, s.client, s.cardKey(id))
}

// TryIncrementUsage watches the card key; apply runs again if another client wrote the card meanwhile.
func (s *CardStore) TryIncrementUsage(
	ctx context.Context, id string, apply func(card *scratchcard.ScratchCard) error,
) (scratchcard.ScratchCard, error) {
	key := s.cardKey(id)
	var result scratchcard.ScratchCard

	err := s.retry(ctx, func(tx *redis.Tx) error {
		card, err := getCard(ctx, tx, key)
		if err != nil {
			return err
		}
		if err = apply(&card); err != nil {
			return err
		}
		raw, err := json.Marshal(card)
		if err != nil {
			return errors.Wrap(err, "encoding scratch card")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			result = card
		}
		return err
	}, key)
	if err != nil {
		return scratchcard.ScratchCard{}, err
	}
	return result, nil
}

func (s *CardStore) InsertBatch(ctx context.Context, cards []scratchcard.ScratchCard, now time.Time) error {
	if len(cards) == 0 {
		return nil
	}

	pinKeys := make([]string, len(cards))
	for i, card := range cards {
		pinKeys[i] = s.pinKey(card.Pin)
	}

	return s.retry(ctx, func(tx *redis.Tx) error {
		ids, err := tx.MGet(ctx, pinKeys...).Result()
		if err != nil {
			return errors.Wrap(err, "getting PINs")
		}

		var collisions []string
		for i, id := range ids {
			idStr, ok := id.(string)
			if !ok {
				continue
			}
			live, err := getCard(ctx, tx, s.cardKey(idStr))
			if err == scratchcard.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if !live.IsExpired(now) {
				collisions = append(collisions, cards[i].Pin)
			}
		}
		if len(collisions) > 0 {
			return &scratchcard.PinCollisionError{Pins: collisions}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, card := range cards {
				raw, err := json.Marshal(card)
				if err != nil {
					return errors.Wrap(err, "encoding scratch card")
				}
				pipe.Set(ctx, s.cardKey(card.ID), raw, 0)
				pipe.Set(ctx, s.pinKey(card.Pin), card.ID, 0)
				pipe.ZAdd(ctx, s.listKey(), redis.Z{Score: float64(card.IssuedAt.UnixNano()), Member: card.ID})
			}
			return nil
		})
		return err
	}, pinKeys...)
}

func (s *CardStore) QueryCards(
	ctx context.Context, filter scratchcard.QueryFilter, ordering []core.DBOrdering,
) ([]scratchcard.ScratchCard, error) {
	ids, err := s.client.ZRevRange(ctx, s.listKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing scratch cards")
	}
	if len(ids) == 0 {
		return []scratchcard.ScratchCard{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.cardKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "getting scratch cards")
	}

	cards := make([]scratchcard.ScratchCard, 0, len(vals))
	for _, val := range vals {
		raw, ok := val.(string)
		if !ok {
			continue
		}
		var card scratchcard.ScratchCard
		if err = json.Unmarshal([]byte(raw), &card); err != nil {
			return nil, errors.Wrap(err, "decoding scratch card")
		}
		if filter.Matches(card) {
			cards = append(cards, card)
		}
	}

	// ids come newest first, which is the default ordering
	for i := len(ordering) - 1; i >= 0; i-- {
		ord := ordering[i]
		sort.SliceStable(cards, func(a, b int) bool {
			var less bool
			switch ord.Field {
			case "issued_at":
				less = cards[a].IssuedAt.Before(cards[b].IssuedAt)
				if !ord.Ascending {
					less = cards[a].IssuedAt.After(cards[b].IssuedAt)
				}
			case "usage_count":
				less = cards[a].UsageCount < cards[b].UsageCount
				if !ord.Ascending {
					less = cards[a].UsageCount > cards[b].UsageCount
				}
			}
			return less
		})
	}
	return cards, nil
}
