// Package search provides a pluggable web search interface.
//
// Each search provider implements the [Provider] interface and is
// registered on a [Manager]. The manager queries providers in
// registration order and returns the first successful answer.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrQuotaExceeded is returned when a provider reports its daily quota
// is spent.
var ErrQuotaExceeded = errors.New("search quota exceeded")

// ErrNotConfigured is returned by a Manager with no providers.
var ErrNotConfigured = errors.New("no search provider configured")

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "google", "searxng").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers.
type Manager struct {
	providers []Provider
	logger    *slog.Logger
}

// NewManager creates an empty search manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Register adds a provider. The first registered provider is primary.
func (m *Manager) Register(p Provider) {
	m.providers = append(m.providers, p)
}

// Search runs a query against each provider in turn until one answers.
// A quota error is returned only when no later provider succeeds.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if len(m.providers) == 0 {
		return nil, ErrNotConfigured
	}
	var errs []error
	for _, p := range m.providers {
		results, err := p.Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		m.logger.Warn("search provider failed", "provider", p.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// Providers returns the names of all registered providers.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}

// FormatResults renders results as a spoken-style summary list.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	sb.WriteString("Top Search Results:")
	for _, r := range results {
		sb.WriteString("\n- ")
		sb.WriteString(r.Title)
		if r.Snippet != "" {
			sb.WriteString(": ")
			sb.WriteString(r.Snippet)
		}
	}
	return sb.String()
}
