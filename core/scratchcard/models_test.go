package scratchcard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScratchCard_redeem(t *testing.T) {
	issued := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	window := 7 * 24 * time.Hour

	tests := []struct {
		name      string
		boundTo   string
		count     int
		at        time.Time
		student   string
		want      Status
		wantCount int
		wantBound string
	}{
		{"unbound fresh card binds", "", 0, issued, "s1", StatusRedeemed, 1, "s1"},
		{"bound to requester", "s1", 1, issued.Add(time.Hour), "s1", StatusRedeemed, 2, "s1"},
		{"last use", "s1", 2, issued, "s1", StatusRedeemed, 3, "s1"},
		{"bound to another student", "s1", 0, issued, "s2", StatusStudentMismatch, 0, "s1"},
		{"mismatch wins over expiry and limit", "s1", 3, issued.Add(window + time.Hour), "s2", StatusStudentMismatch, 3, "s1"},
		{"exactly at the boundary", "", 0, issued.Add(window), "s1", StatusRedeemed, 1, "s1"},
		{"just past the boundary", "", 0, issued.Add(window + time.Nanosecond), "s1", StatusCardExpired, 0, ""},
		{"expired wins over limit", "s1", 3, issued.Add(window + time.Nanosecond), "s1", StatusCardExpired, 3, "s1"},
		{"limit reached", "s1", 3, issued, "s1", StatusUsageLimitExceeded, 3, "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := ScratchCard{
				BoundStudentID: tt.boundTo,
				IssuedAt:       issued,
				UsageCount:     tt.count,
				UsageLimit:     3,
				ValidityWindow: window,
			}
			assert.Equal(t, tt.want, card.redeem(tt.student, tt.at))
			assert.Equal(t, tt.wantCount, card.UsageCount)
			assert.Equal(t, tt.wantBound, card.BoundStudentID)
			assert.True(t, card.UsageCount <= card.UsageLimit)
		})
	}
}

func TestScratchCard_RemainingUses(t *testing.T) {
	assert.Equal(t, 3, ScratchCard{UsageLimit: 3}.RemainingUses())
	assert.Equal(t, 1, ScratchCard{UsageCount: 2, UsageLimit: 3}.RemainingUses())
	assert.Equal(t, 0, ScratchCard{UsageCount: 3, UsageLimit: 3}.RemainingUses())
}

func TestNormalizePin(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"1234-5678-9012", "1234-5678-9012", true},
		{"123456789012", "1234-5678-9012", true},
		{" 1234 5678 9012 ", "1234-5678-9012", true},
		{"1234-5678-901", "", false},
		{"1234-5678-90123", "", false},
		{"1234-5678-901a", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizePin(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGeneratePin(t *testing.T) {
	for i := 0; i < 100; i++ {
		pin, err := GeneratePin()
		assert.NoError(t, err)
		assert.Len(t, pin, pinLen)
		normalized, ok := NormalizePin(pin)
		assert.True(t, ok)
		assert.Equal(t, pin, normalized)
	}
}

func TestStatus(t *testing.T) {
	messages := make(map[string]bool)
	for _, s := range []Status{StatusRedeemed, StatusInvalidPin, StatusStudentMismatch, StatusCardExpired, StatusUsageLimitExceeded} {
		assert.NotEqual(t, "unknown", s.String())
		assert.NotEmpty(t, s.Message())
		assert.False(t, messages[s.Message()], "duplicate message for %s", s)
		messages[s.Message()] = true
	}
	assert.Equal(t, "unknown", Status(42).String())
}

func TestQueryFilter(t *testing.T) {
	qf := QueryFilter{StudentID: " s1 ", Pin: "123456789012"}
	qf.Clean()
	assert.Equal(t, QueryFilter{StudentID: "s1", Pin: "1234-5678-9012"}, qf)

	assert.True(t, qf.Matches(ScratchCard{BoundStudentID: "s1", Pin: "1234-5678-9012"}))
	assert.False(t, qf.Matches(ScratchCard{BoundStudentID: "s2", Pin: "1234-5678-9012"}))
	assert.True(t, QueryFilter{}.Matches(ScratchCard{}))
}
