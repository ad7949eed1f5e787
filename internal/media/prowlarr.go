package media

import (
	"context"
	"fmt"
	"strings"
)

// Indexer is a Prowlarr indexer definition.
type Indexer struct {
	Name   string `json:"name"`
	Enable bool   `json:"enable"`
}

// Prowlarr is a Prowlarr v1 client.
type Prowlarr struct {
	*arrClient
}

// NewProwlarr creates a Prowlarr client.
func NewProwlarr(baseURL, apiKey string) *Prowlarr {
	return &Prowlarr{newArrClient("Prowlarr", baseURL, apiKey, "v1")}
}

// Indexers returns every configured indexer.
func (p *Prowlarr) Indexers(ctx context.Context) ([]Indexer, error) {
	var idx []Indexer
	err := p.get(ctx, "indexer", nil, &idx)
	return idx, err
}

// Query answers one of status, stats or indexers.
func (p *Prowlarr) Query(ctx context.Context, queryType string) string {
	if !p.Configured() {
		return p.notConfigured()
	}
	out, err := p.query(ctx, queryType)
	if err != nil {
		return describeError("Prowlarr", err)
	}
	return out
}

func (p *Prowlarr) query(ctx context.Context, queryType string) (string, error) {
	switch queryType {
	case "status":
		v, err := p.Status(ctx)
		if err != nil {
			return "", err
		}
		return "Prowlarr is running. Version: " + v, nil

	case "stats", "indexers":
		idx, err := p.Indexers(ctx)
		if err != nil {
			return "", err
		}
		enabled := 0
		for _, i := range idx {
			if i.Enable {
				enabled++
			}
		}
		if queryType == "stats" {
			return fmt.Sprintf("Prowlarr Stats: %d indexers configured, %d enabled", len(idx), enabled), nil
		}
		if len(idx) == 0 {
			return "No indexers configured in Prowlarr.", nil
		}
		lines := []string{fmt.Sprintf("Indexers (%d total):", len(idx))}
		for _, i := range head(idx, 10) {
			state := "disabled"
			if i.Enable {
				state = "enabled"
			}
			lines = append(lines, fmt.Sprintf("- %s (%s)", i.Name, state))
		}
		return strings.Join(lines, "\n"), nil
	}
	return fmt.Sprintf("Unknown query type: %s. Supported: status, stats, indexers", queryType), nil
}
