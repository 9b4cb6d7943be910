package usecase

import (
	"strings"

	"github.com/fairyhunter13/subfleet/internal/domain"
)

// loopThreshold is how many same-kind success lines flag an infinite loop.
const loopThreshold = 3

// LoopDetected reports whether the result history shows the row flipping
// through the same-kind success at least three times. Matching is
// case-insensitive and accepts both the "new-success" and "already"
// outcome tags. Consulted only on success outcomes; repeated failures are
// the retry cap's business.
func LoopDetected(history string, kind domain.TransitionKind) bool {
	h := strings.ToLower(history)
	marker := strings.ToLower(string(kind))
	count := 0
	for _, line := range strings.Split(h, "\n") {
		if !strings.Contains(line, marker) {
			continue
		}
		if strings.Contains(line, historyOutcomeNewSuccess) || strings.Contains(line, historyOutcomeAlready) {
			count++
		}
	}
	return count >= loopThreshold
}
