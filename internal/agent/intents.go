package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// The pre-pass answers a few memory commands by pattern alone. It is a
// latency shortcut: anything it does not match goes to the model, which
// reaches the same preferences through the memory tools.
var (
	saveIntent   = regexp.MustCompile(`^(?:please\s+)?(?:remember|save|set)\s+(?:that\s+)?(?:my\s+)?(.+?)\s+(?:is|as|to)\s+(.+?)[.!]?$`)
	recallIntent = regexp.MustCompile(`^(?:(?:what|where)(?:'s|\s+is)\s+my\s+home(?:\s+(?:address|location))?|where\s+do\s+i\s+live)[?.!]?$`)
	placeWords   = regexp.MustCompile(`\b(?:location|address)\b`)
)

// HomeLocationKey is the preference holding the user's home address.
const HomeLocationKey = "home_location"

// interceptIntent returns a reply when text is a place to remember or a
// question about home, and false otherwise.
func interceptIntent(mem Memory, text string) (string, bool) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	if recallIntent.MatchString(lower) {
		home := mem.PreferenceString(HomeLocationKey, "")
		if home == "" {
			return "", false
		}
		return fmt.Sprintf("Your home is in %s, Sir.", home), true
	}

	m := saveIntent.FindStringSubmatchIndex(lower)
	if m == nil || len(lower) != len(text) {
		return "", false
	}
	name := lower[m[2]:m[3]]
	value := strings.TrimSpace(text[m[4]:m[5]])
	if value == "" {
		return "", false
	}

	key, display, ok := placeKey(name)
	if !ok {
		return "", false
	}
	if err := mem.SetPreference(key, value); err != nil {
		return "", false
	}
	return fmt.Sprintf("Understood, Sir. I've logged %s as %s.", display, value), true
}

// placeKey maps a spoken place name onto its preference key. Only
// "home" or names that say location or address qualify, so device
// commands such as "set the heating to 21" and facts such as "remember
// Sam is vegetarian" fall through to the model.
func placeKey(name string) (key, display string, ok bool) {
	explicit := placeWords.MatchString(name)
	words := strings.Fields(placeWords.ReplaceAllString(name, ""))
	if len(words) > 0 && words[0] == "the" {
		words = words[1:]
	}
	switch {
	case len(words) == 1 && words[0] == "home":
		return HomeLocationKey, "your home", true
	case !explicit || len(words) == 0:
		return "", "", false
	}
	return strings.Join(words, "_") + "_location", strings.Join(words, " "), true
}
