package scratchcard

import (
	"time"

	"github.com/trezcool/masomo-results/core"
)

const (
	DefaultUsageLimit     = 3
	DefaultValidityWindow = 7 * 24 * time.Hour

	maxBatchSize = 1000
)

// ScratchCard is a PIN credential granting a bounded number of result checks within its validity window.
type ScratchCard struct {
	ID             string        `json:"id"`
	Pin            string        `json:"pin"`
	BoundStudentID string        `json:"bound_student_id,omitempty"` // empty: not bound yet
	IssuedAt       time.Time     `json:"issued_at"`                  // UTC
	UsageCount     int           `json:"usage_count"`
	UsageLimit     int           `json:"usage_limit"`
	ValidityWindow time.Duration `json:"validity_window"`
}

func (c ScratchCard) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.ValidityWindow)
}

// IsExpired reports whether `now` is past the validity window. The boundary itself is still valid.
func (c ScratchCard) IsExpired(now time.Time) bool {
	return now.Sub(c.IssuedAt) > c.ValidityWindow
}

func (c ScratchCard) IsBound() bool {
	return c.BoundStudentID != ""
}

func (c ScratchCard) RemainingUses() int {
	if c.UsageCount >= c.UsageLimit {
		return 0
	}
	return c.UsageLimit - c.UsageCount
}

// redeem applies the redemption rules in order: binding, expiry, usage limit.
// On success the usage is recorded and an unbound card gets bound to studentID.
func (c *ScratchCard) redeem(studentID string, now time.Time) Status {
	if c.IsBound() && c.BoundStudentID != studentID {
		return StatusStudentMismatch
	}
	if c.IsExpired(now) {
		return StatusCardExpired
	}
	if c.UsageCount >= c.UsageLimit {
		return StatusUsageLimitExceeded
	}
	c.UsageCount++
	if !c.IsBound() {
		c.BoundStudentID = studentID
	}
	return StatusRedeemed
}

// Status is the outcome of a redemption attempt.
type Status int

const (
	StatusRedeemed Status = iota
	StatusInvalidPin
	StatusStudentMismatch
	StatusCardExpired
	StatusUsageLimitExceeded
)

var (
	statusCodes = map[Status]string{
		StatusRedeemed:           "redeemed",
		StatusInvalidPin:         "invalid_pin",
		StatusStudentMismatch:    "student_mismatch",
		StatusCardExpired:        "card_expired",
		StatusUsageLimitExceeded: "usage_limit_exceeded",
	}
	statusMessages = map[Status]string{
		StatusRedeemed:           "scratch card accepted",
		StatusInvalidPin:         "invalid scratch card PIN",
		StatusStudentMismatch:    "this scratch card was issued to another student",
		StatusCardExpired:        "this scratch card has expired",
		StatusUsageLimitExceeded: "this scratch card has reached its usage limit",
	}
)

func (s Status) String() string {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return "unknown"
}

// Message is a user facing description of the status.
func (s Status) Message() string {
	return statusMessages[s]
}

// Outcome is the result of Service.Redeem. Card is the zero value when the PIN is unknown.
type Outcome struct {
	Status        Status
	RemainingUses int
	Card          ScratchCard
}

func (o Outcome) OK() bool {
	return o.Status == StatusRedeemed
}

// NewBatch contains information needed to generate scratch cards.
type NewBatch struct {
	Count     int    `json:"count" validate:"required,min=1,max=1000"`
	StudentID string `json:"student_id" validate:"omitempty,max=64"`
}

func (nb *NewBatch) Clean() {
	nb.StudentID = core.CleanString(nb.StudentID)
}

type QueryFilter struct {
	StudentID string `query:"student_id"`
	Pin       string `query:"pin"`
}

func (qf *QueryFilter) Clean() {
	qf.StudentID = core.CleanString(qf.StudentID)
	if qf.Pin != "" {
		if pin, ok := NormalizePin(qf.Pin); ok {
			qf.Pin = pin
		}
	}
}

// Matches reports whether card satisfies all set fields of the filter.
func (qf QueryFilter) Matches(card ScratchCard) bool {
	if qf.StudentID != "" && card.BoundStudentID != qf.StudentID {
		return false
	}
	if qf.Pin != "" && card.Pin != qf.Pin {
		return false
	}
	return true
}

// Orderings maps the API fields cards can be ordered by to their DB columns.
var Orderings = map[string]string{
	"issued_at":   "issued_at",
	"usage_count": "usage_count",
}
