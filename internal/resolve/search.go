// Package resolve maps loosely specified device names onto entity IDs
// in the live Home Assistant directory.
package resolve

import (
	"sort"
	"strings"

	"github.com/nugget/jarvis/internal/homeassistant"
)

// Match tiers, strongest first.
const (
	ScoreExactName  = 100
	ScoreNameSubstr = 80
	ScoreNameTokens = 60
	ScoreIDSubstr   = 40
	ScoreIDTokens   = 20
	ScoreAnyTokens  = 10
)

// Match is a ranked search hit.
type Match struct {
	ID     string `json:"entity_id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Score  int    `json:"score"`
}

// Search ranks entities against query. Only entities matching at least
// one tier are returned, strongest first; ties keep directory order.
func Search(query string, entities []homeassistant.Entity) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	tokens := strings.Fields(q)

	var matches []Match
	for _, e := range entities {
		if score := Score(q, tokens, e.ID, e.Name); score > 0 {
			matches = append(matches, Match{
				ID:     e.ID,
				Name:   e.Name,
				Domain: e.Domain,
				Score:  score,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

// Score returns the tier of the strongest match of q (already lowercased
// and tokenized) against an entity's id and display name, or 0.
func Score(q string, tokens []string, id, name string) int {
	id = strings.ToLower(id)
	name = strings.ToLower(name)

	switch {
	case name != "" && name == q:
		return ScoreExactName
	case name != "" && strings.Contains(name, q):
		return ScoreNameSubstr
	case name != "" && containsAll(name, tokens):
		return ScoreNameTokens
	case strings.Contains(id, q):
		return ScoreIDSubstr
	case containsAll(id, tokens):
		return ScoreIDTokens
	case containsAll(id+" "+name, tokens):
		return ScoreAnyTokens
	}
	return 0
}

func containsAll(s string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(s, t) {
			return false
		}
	}
	return true
}
