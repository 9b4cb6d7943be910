package usecase

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fairyhunter13/subfleet/internal/domain"
	"github.com/fairyhunter13/subfleet/pkg/datex"
)

// Result-history line outcome tags. The only consumer that parses these
// back is the loop detector.
const (
	historyOutcomeNewSuccess = "new-success"
	historyOutcomeAlready    = "already"
	historyOutcomeFailure    = "failure"
	historyOutcomePending    = "pending"
)

// historyLine renders one result-history line:
//
//	<emoji> <kind> (<lang>) <outcome> | <M/D HH:MM> | <workerId>[ | <detail>]
func historyLine(kind domain.TransitionKind, lang, outcome string, at time.Time, workerID, detail string) string {
	emoji := "✅"
	switch outcome {
	case historyOutcomeFailure:
		emoji = "❌"
	case historyOutcomePending:
		emoji = "⏳"
	}
	if lang == "" {
		lang = "?"
	}
	line := fmt.Sprintf("%s %s (%s) %s | %s | %s", emoji, kind, lang, outcome, datex.FormatShort(at), workerID)
	detail = strings.TrimSpace(detail)
	if detail != "" {
		line += " | " + sanitizeDetail(detail)
	}
	return line
}

// sanitizeDetail keeps a detail on one line and short enough to live in a
// cell.
func sanitizeDetail(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	if len(s) > 180 {
		cut := 180
		// Back up to a rune boundary so the truncation never splits a
		// multi-byte character.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}
