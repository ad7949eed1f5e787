package resolve

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/nugget/jarvis/internal/homeassistant"
)

// Directory is the slice of the device directory the resolver needs.
type Directory interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	Entities(ctx context.Context) ([]homeassistant.Entity, error)
}

// Policy controls which fuzzy matches may stand in for a missing
// entity.
type Policy struct {
	// Interchangeable domains may substitute for one another.
	Interchangeable []string
	// Exclusions maps a requested domain to keywords that disqualify a
	// candidate when found in its name or id.
	Exclusions map[string][]string
}

// DefaultPolicy lets lights, switches and input booleans stand in for
// each other but never redirects a light command to a plug or socket.
func DefaultPolicy() Policy {
	return Policy{
		Interchangeable: []string{"light", "switch", "input_boolean"},
		Exclusions:      map[string][]string{"light": {"plug", "socket"}},
	}
}

// Resolver corrects entity IDs that do not exist.
type Resolver struct {
	dir    Directory
	policy Policy
	logger *slog.Logger
}

// New creates a Resolver over dir.
func New(dir Directory, policy Policy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, policy: policy, logger: logger}
}

// Resolve returns entityID unchanged when it exists. Otherwise it
// searches the directory using the object id as free text and returns
// the first acceptable match with corrected set. Lookup failures are
// logged and treated as "could not resolve".
func (r *Resolver) Resolve(ctx context.Context, entityID string) (resolved string, corrected bool) {
	_, err := r.dir.GetState(ctx, entityID)
	if err == nil {
		return entityID, false
	}
	if !errors.Is(err, homeassistant.ErrNotFound) {
		r.logger.Warn("entity lookup failed during resolution",
			"entity_id", entityID, "error", err)
		return entityID, false
	}

	domain := homeassistant.Domain(entityID)
	query := strings.ReplaceAll(homeassistant.ObjectID(entityID), "_", " ")

	entities, err := r.dir.Entities(ctx)
	if err != nil {
		r.logger.Warn("entity listing failed during resolution",
			"entity_id", entityID, "error", err)
		return entityID, false
	}

	for _, m := range Search(query, entities) {
		if r.excluded(domain, m) {
			continue
		}
		if m.Domain == domain || slices.Contains(r.policy.Interchangeable, m.Domain) {
			r.logger.Info("auto-resolved entity",
				"requested", entityID, "resolved", m.ID, "score", m.Score)
			return m.ID, true
		}
	}

	r.logger.Debug("no resolution candidate", "entity_id", entityID, "query", query)
	return entityID, false
}

func (r *Resolver) excluded(domain string, m Match) bool {
	haystack := strings.ToLower(m.ID + " " + m.Name)
	for _, kw := range r.policy.Exclusions[domain] {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
