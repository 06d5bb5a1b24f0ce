// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
)

// insertLockKey serializes batch inserts so two batches cannot claim the same live PIN.
const insertLockKey = 0x5c7a7c4d

const cardColumns = "id, pin, bound_student_id, issued_at, usage_count, usage_limit, validity_seconds"

type cardRow struct {
	ID              string      `db:"id"`
	Pin             string      `db:"pin"`
	BoundStudentID  null.String `db:"bound_student_id"`
	IssuedAt        time.Time   `db:"issued_at"`
	UsageCount      int         `db:"usage_count"`
	UsageLimit      int         `db:"usage_limit"`
	ValiditySeconds int64       `db:"validity_seconds"`
}

func toCardRow(card scratchcard.ScratchCard) cardRow {
	return cardRow{
		ID:              card.ID,
		Pin:             card.Pin,
		BoundStudentID:  null.NewString(card.BoundStudentID, card.BoundStudentID != ""),
		IssuedAt:        card.IssuedAt.UTC(),
		UsageCount:      card.UsageCount,
		UsageLimit:      card.UsageLimit,
		ValiditySeconds: int64(card.ValidityWindow / time.Second),
	}
}

func (r cardRow) card() scratchcard.ScratchCard {
	return scratchcard.ScratchCard{
		ID:             r.ID,
		Pin:            strings.TrimSpace(r.Pin),
		BoundStudentID: r.BoundStudentID.String,
		IssuedAt:       r.IssuedAt.UTC(),
		UsageCount:     r.UsageCount,
		UsageLimit:     r.UsageLimit,
		ValidityWindow: time.Duration(r.ValiditySeconds) * time.Second,
	}
}

type cardStore struct {
	db *sqlx.DB
}

var _ scratchcard.Store = (*cardStore)(nil) // interface compliance check

func NewScratchCardStore(db *sqlx.DB) *cardStore {
	return &cardStore{db: db}
}

func (s *cardStore) FindByPin(ctx context.Context, pin string) (scratchcard.ScratchCard, error) {
	var row cardRow
	q := "SELECT " + cardColumns + " FROM scratch_card WHERE pin = $1 ORDER BY issued_at DESC LIMIT 1"
	if err := s.db.GetContext(ctx, &row, q, pin); err != nil {
		if err == sql.ErrNoRows {
			return scratchcard.ScratchCard{}, scratchcard.ErrNotFound
		}
		return scratchcard.ScratchCard{}, errors.Wrap(err, "selecting scratch card")
	}
	return row.card(), nil
}

// TryIncrementUsage holds a row lock on the card for the duration of apply.
func (s *cardStore) TryIncrementUsage(
	ctx context.Context, id string, apply func(card *scratchcard.ScratchCard) error,
) (card scratchcard.ScratchCard, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return card, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var row cardRow
	q := "SELECT " + cardColumns + " FROM scratch_card WHERE id = $1 FOR UPDATE"
	if err = tx.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return card, scratchcard.ErrNotFound
		}
		return card, errors.Wrap(err, "locking scratch card")
	}

	card = row.card()
	if err = apply(&card); err != nil {
		return scratchcard.ScratchCard{}, err
	}

	updated := toCardRow(card)
	_, err = tx.ExecContext(ctx,
		"UPDATE scratch_card SET usage_count = $1, bound_student_id = $2 WHERE id = $3",
		updated.UsageCount, updated.BoundStudentID, updated.ID,
	)
	if err != nil {
		return scratchcard.ScratchCard{}, errors.Wrap(err, "updating scratch card")
	}
	if err = tx.Commit(); err != nil {
		return scratchcard.ScratchCard{}, errors.Wrap(err, "committing transaction")
	}
	return card, nil
}

func (s *cardStore) InsertBatch(ctx context.Context, cards []scratchcard.ScratchCard, now time.Time) (err error) {
	if len(cards) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", insertLockKey); err != nil {
		return errors.Wrap(err, "acquiring insert lock")
	}

	pins := make([]string, len(cards))
	rows := make([]cardRow, len(cards))
	for i, card := range cards {
		pins[i] = card.Pin
		rows[i] = toCardRow(card)
	}

	var collisions []string
	err = tx.SelectContext(ctx, &collisions,
		"SELECT DISTINCT pin FROM scratch_card "+
			"WHERE pin = ANY($1) AND issued_at + validity_seconds * INTERVAL '1 second' >= $2",
		pq.Array(pins), now.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "checking PIN collisions")
	}
	if len(collisions) > 0 {
		for i := range collisions {
			collisions[i] = strings.TrimSpace(collisions[i])
		}
		err = &scratchcard.PinCollisionError{Pins: collisions}
		return err
	}

	_, err = tx.NamedExecContext(ctx,
		"INSERT INTO scratch_card ("+cardColumns+") VALUES "+
			"(:id, :pin, :bound_student_id, :issued_at, :usage_count, :usage_limit, :validity_seconds)",
		rows,
	)
	if err != nil {
		return errors.Wrap(err, "inserting scratch cards")
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

func (s *cardStore) QueryCards(
	ctx context.Context, filter scratchcard.QueryFilter, ordering []core.DBOrdering,
) ([]scratchcard.ScratchCard, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conds = append(conds, "bound_student_id = $"+strconv.Itoa(len(args)))
	}
	if filter.Pin != "" {
		args = append(args, filter.Pin)
		conds = append(conds, "pin = $"+strconv.Itoa(len(args)))
	}

	q := "SELECT " + cardColumns + " FROM scratch_card"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY " + orderBy(ordering, "issued_at DESC")

	var rows []cardRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting scratch cards")
	}
	cards := make([]scratchcard.ScratchCard, len(rows))
	for i, row := range rows {
		cards[i] = row.card()
	}
	return cards, nil
}

// orderBy expects orderings already restricted to known columns (see core.FilterOrderings).
func orderBy(ordering []core.DBOrdering, fallback string) string {
	if len(ordering) == 0 {
		return fallback
	}
	parts := make([]string, len(ordering))
	for i, ord := range ordering {
		parts[i] = ord.String()
	}
	return strings.Join(parts, ", ")
}
