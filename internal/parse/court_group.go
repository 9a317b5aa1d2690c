package parse

import (
	"regexp"
	"strings"
)

// CourtSuffix is the facility-type word that ends a court group name.
const CourtSuffix = "테니스장"

var bracketRe = regexp.MustCompile(`\[[^\]]*\]`)

// CourtGroup derives the group key from a facility title.
// "[유료] 남사 테니스장 A코트" -> "남사"; a title without the suffix keeps its
// full text minus bracketed tags.
func CourtGroup(title string) string {
	s := bracketRe.ReplaceAllString(title, "")
	if i := strings.Index(s, CourtSuffix); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
