package query

import (
	"strings"

	"github.com/ragline/ragline/vector"
)

const contextSeparator = "\n\n"

// truncateFloor is the smallest prefix of a chunk worth including when
// the chunk doesn't fit the remaining budget whole.
const truncateFloor = 100

// assembleContext walks matches in order, joining chunk contents with a
// blank line while they fit the character budget. A chunk that does not
// fit whole is truncated into the remaining space when more than
// truncateFloor characters of it would survive; either way assembly
// stops there. Returns the joined context and the matches consumed,
// whole or truncated.
func assembleContext(matches []vector.Match, maxChars int) (string, []vector.Match) {
	var parts []string
	var used []vector.Match
	var total int

	for _, m := range matches {
		var sep int
		if len(parts) > 0 {
			sep = len(contextSeparator)
		}

		if total+len(m.Content)+sep <= maxChars {
			parts = append(parts, m.Content)
			total += len(m.Content) + sep
			used = append(used, m)
			continue
		}

		if remaining := maxChars - total - sep; remaining > truncateFloor {
			parts = append(parts, m.Content[:remaining])
			used = append(used, m)
		}
		break
	}
	return strings.Join(parts, contextSeparator), used
}
