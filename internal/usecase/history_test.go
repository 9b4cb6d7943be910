package usecase

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

func TestHistoryLine(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 8, 25, 9, 5, 0, 0, time.Local)

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		got := historyLine(domain.KindPause, "en", historyOutcomeNewSuccess, at, "host-1-abc", "")
		assert.Equal(t, "✅ pause (en) new-success | 8/25 09:05 | host-1-abc", got)
	})

	t.Run("failure with detail", func(t *testing.T) {
		t.Parallel()
		got := historyLine(domain.KindResume, "de", historyOutcomeFailure, at, "w1", "timeout waiting for page")
		assert.Equal(t, "❌ resume (de) failure | 8/25 09:05 | w1 | timeout waiting for page", got)
	})

	t.Run("pending", func(t *testing.T) {
		t.Parallel()
		got := historyLine(domain.KindPause, "en", historyOutcomePending, at, "w1", "bank processing")
		assert.Equal(t, "⏳ pause (en) pending | 8/25 09:05 | w1 | bank processing", got)
	})

	t.Run("unknown language renders as question mark", func(t *testing.T) {
		t.Parallel()
		got := historyLine(domain.KindPause, "", historyOutcomeNewSuccess, at, "w1", "")
		assert.Contains(t, got, "pause (?)")
	})

	t.Run("detail is sanitized", func(t *testing.T) {
		t.Parallel()
		got := historyLine(domain.KindPause, "en", historyOutcomeFailure, at, "w1", "line one\nline two | tail")
		assert.NotContains(t, got, "\n")
		assert.Contains(t, got, "line one line two / tail")
	})
}

func TestSanitizeDetail(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "a b", sanitizeDetail("a\nb"))
	assert.Equal(t, "a / b", sanitizeDetail("a | b"))
	long := strings.Repeat("x", 400)
	assert.Len(t, sanitizeDetail(long), 180)
}

func TestSanitizeDetailMultiByteBoundary(t *testing.T) {
	t.Parallel()
	// 179 ASCII bytes followed by a 3-byte rune straddling the cut: the
	// truncation must back off rather than emit a partial sequence.
	s := strings.Repeat("x", 179) + "日本語エラー"
	got := sanitizeDetail(s)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 180)
	assert.Equal(t, strings.Repeat("x", 179), got)

	// A detail made only of multi-byte runes stays valid too.
	wide := strings.Repeat("ブ", 100) // 300 bytes
	gotWide := sanitizeDetail(wide)
	assert.True(t, utf8.ValidString(gotWide))
	assert.Equal(t, strings.Repeat("ブ", 60), gotWide)
}
