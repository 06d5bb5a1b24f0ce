package scratchcard

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core"
)

const maxGenerateAttempts = 10

var (
	// errors
	ErrNotFound          = errors.New("scratch card not found")
	ErrPinSpaceExhausted = errors.New("could not generate unique PINs")

	errRejected = errors.New("redemption rejected")
)

// PinCollisionError is returned by Store.InsertBatch when some PINs are already used by live cards.
type PinCollisionError struct {
	Pins []string
}

func (err *PinCollisionError) Error() string {
	return fmt.Sprintf("PINs already in use: %s", strings.Join(err.Pins, ", "))
}

// Store persists scratch cards.
type Store interface {
	// FindByPin returns the most recently issued card with the given PIN, or ErrNotFound.
	FindByPin(ctx context.Context, pin string) (ScratchCard, error)
	// TryIncrementUsage atomically loads the card, calls apply on it and saves the result.
	// No concurrent caller can observe or modify the card between the load and the save.
	// If apply returns an error nothing is written and that error is returned.
	// apply may be called more than once by optimistic implementations.
	TryIncrementUsage(ctx context.Context, id string, apply func(card *ScratchCard) error) (ScratchCard, error)
	// InsertBatch inserts all cards or none. It fails with a *PinCollisionError when a PIN
	// is already used by a card not expired at `now`.
	InsertBatch(ctx context.Context, cards []ScratchCard, now time.Time) error
	QueryCards(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]ScratchCard, error)
}

type Service struct {
	store   Store
	mailSvc core.EmailService
	conf    *core.Config
	newPin  func() (string, error) // mockable
}

func NewService(store Store, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		store:   store,
		mailSvc: mailSvc,
		conf:    conf,
		newPin:  GeneratePin,
	}
}

func (svc *Service) usageLimit() int {
	if svc.conf.ScratchCard.UsageLimit > 0 {
		return svc.conf.ScratchCard.UsageLimit
	}
	return DefaultUsageLimit
}

func (svc *Service) validityWindow() time.Duration {
	if svc.conf.ScratchCard.ValidityWindow > 0 {
		return svc.conf.ScratchCard.ValidityWindow
	}
	return DefaultValidityWindow
}

// Redeem consumes one use of the card with the given PIN on behalf of studentID.
// Rejections are reported through Outcome.Status; the error is only set on storage failures.
func (svc *Service) Redeem(ctx context.Context, pin, studentID string, now time.Time) (Outcome, error) {
	pin, ok := NormalizePin(pin)
	if !ok {
		return Outcome{Status: StatusInvalidPin}, nil
	}

	card, err := svc.store.FindByPin(ctx, pin)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Outcome{Status: StatusInvalidPin}, nil
		}
		return Outcome{}, errors.Wrap(err, "finding scratch card by PIN")
	}

	var (
		status Status
		seen   ScratchCard
	)
	card, err = svc.store.TryIncrementUsage(ctx, card.ID, func(c *ScratchCard) error {
		seen = *c
		if status = c.redeem(studentID, now); status != StatusRedeemed {
			return errRejected
		}
		return nil
	})
	if err != nil {
		switch errors.Cause(err) {
		case errRejected:
			return Outcome{Status: status, RemainingUses: seen.RemainingUses(), Card: seen}, nil
		case ErrNotFound:
			return Outcome{Status: StatusInvalidPin}, nil
		}
		return Outcome{}, errors.Wrap(err, "incrementing scratch card usage")
	}
	return Outcome{Status: StatusRedeemed, RemainingUses: card.RemainingUses(), Card: card}, nil
}

// Generate creates `count` cards issued at `now`. They are pre-bound to studentID if set.
// PINs are unique within the batch and across all live cards; colliding PINs are regenerated.
func (svc *Service) Generate(ctx context.Context, count int, now time.Time, studentID string) ([]ScratchCard, error) {
	if count <= 0 || count > maxBatchSize {
		return nil, core.NewFieldValidationError("count", fmt.Sprintf("count must be between 1 and %d", maxBatchSize))
	}

	now = now.UTC()
	cards := make([]ScratchCard, count)
	batchPins := make(map[string]struct{}, count)
	for i := range cards {
		pin, err := svc.uniquePin(batchPins)
		if err != nil {
			return nil, err
		}
		cards[i] = ScratchCard{
			ID:             uuid.New().String(),
			Pin:            pin,
			BoundStudentID: studentID,
			IssuedAt:       now,
			UsageLimit:     svc.usageLimit(),
			ValidityWindow: svc.validityWindow(),
		}
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		err := svc.store.InsertBatch(ctx, cards, now)
		if err == nil {
			return cards, nil
		}
		collision, ok := errors.Cause(err).(*PinCollisionError)
		if !ok {
			return nil, errors.Wrap(err, "inserting scratch cards")
		}

		// keep colliding PINs in batchPins so they are not picked again
		taken := make(map[string]struct{}, len(collision.Pins))
		for _, pin := range collision.Pins {
			taken[pin] = struct{}{}
		}
		for i := range cards {
			if _, ok := taken[cards[i].Pin]; !ok {
				continue
			}
			pin, err := svc.uniquePin(batchPins)
			if err != nil {
				return nil, err
			}
			cards[i].Pin = pin
		}
	}
	return nil, ErrPinSpaceExhausted
}

// uniquePin generates a PIN not in `used` and records it there.
func (svc *Service) uniquePin(used map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		pin, err := svc.newPin()
		if err != nil {
			return "", errors.Wrap(err, "generating PIN")
		}
		if _, ok := used[pin]; !ok {
			used[pin] = struct{}{}
			return pin, nil
		}
	}
	return "", ErrPinSpaceExhausted
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]ScratchCard, error) {
	cards, err := svc.store.QueryCards(ctx, filter, core.FilterOrderings(ordering, Orderings))
	if err != nil {
		return nil, errors.Wrap(err, "querying scratch cards")
	}
	return cards, nil
}

type batchMailData struct {
	Cards      []ScratchCard
	IssuedAt   string
	ExpiresAt  string
	UsageLimit int
}

// SendBatchMail emails the generated PINs to the admin who requested them.
func (svc *Service) SendBatchMail(to mail.Address, cards []ScratchCard) {
	if len(cards) == 0 || to.Address == "" {
		return
	}
	first := cards[0]
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      fmt.Sprintf("%d scratch card(s) generated", len(cards)),
		TemplateName: "scratchcards_generated",
		TemplateData: batchMailData{
			Cards:      cards,
			IssuedAt:   first.IssuedAt.Format(time.RFC1123),
			ExpiresAt:  first.ExpiresAt().Format(time.RFC1123),
			UsageLimit: first.UsageLimit,
		},
	})
}
