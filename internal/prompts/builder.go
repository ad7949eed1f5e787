package prompts

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/jarvis/internal/memory"
)

// DefaultRecentContext is the number of past exchanges shown to the
// model when none is configured.
const DefaultRecentContext = 3

// Memory is the read side of the memory store used to build prompts.
type Memory interface {
	Preferences() ([]memory.Preference, error)
	RecentContext(limit int, includeErrors bool) ([]memory.ContextEntry, error)
}

// Builder assembles the system prompt from the persona and the current
// contents of memory. Nothing is cached: every call reads memory again.
type Builder struct {
	mem    Memory
	recent int
	logger *slog.Logger
}

// NewBuilder creates a Builder. recent is the number of non-error
// exchanges to include; zero or less uses DefaultRecentContext.
func NewBuilder(mem Memory, recent int, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if recent <= 0 {
		recent = DefaultRecentContext
	}
	return &Builder{mem: mem, recent: recent, logger: logger}
}

// Build returns the persona followed by a preference dump and the most
// recent non-error exchanges. Empty sections are omitted; memory read
// failures are logged and drop only the affected section.
func (b *Builder) Build() string {
	var sb strings.Builder
	sb.WriteString(Persona())

	if prefs := b.preferences(); len(prefs) > 0 {
		sb.WriteString("\n\nUSER PREFERENCES (from memory):")
		for _, p := range prefs {
			fmt.Fprintf(&sb, "\n- %s: %s", p.Key, memory.FormatValue(p.Value))
		}
	}

	if entries := b.recentContext(); len(entries) > 0 {
		sb.WriteString("\n\nRECENT CONTEXT:")
		for _, e := range entries {
			fmt.Fprintf(&sb, "\nUser: %s\nYou: %s", e.User, e.Assistant)
		}
	}
	return sb.String()
}

// PreferenceSnippet renders the current preferences as a compact
// suffix for a user message, or "" when there are none.
func (b *Builder) PreferenceSnippet() string {
	prefs := b.preferences()
	if len(prefs) == 0 {
		return ""
	}
	pairs := make([]string, len(prefs))
	for i, p := range prefs {
		pairs[i] = fmt.Sprintf("%s=%s", p.Key, memory.FormatValue(p.Value))
	}
	return fmt.Sprintf("(Context: Current preferences: %s)", strings.Join(pairs, ", "))
}

func (b *Builder) preferences() []memory.Preference {
	if b.mem == nil {
		return nil
	}
	prefs, err := b.mem.Preferences()
	if err != nil {
		b.logger.Warn("failed to load preferences for prompt", "error", err)
		return nil
	}
	return prefs
}

func (b *Builder) recentContext() []memory.ContextEntry {
	if b.mem == nil {
		return nil
	}
	entries, err := b.mem.RecentContext(b.recent, false)
	if err != nil {
		b.logger.Warn("failed to load recent context for prompt", "error", err)
		return nil
	}
	return entries
}
