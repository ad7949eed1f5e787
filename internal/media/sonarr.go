package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Series is a Sonarr library or lookup entry.
type Series struct {
	Title      string `json:"title"`
	Year       int    `json:"year"`
	TVDBID     int    `json:"tvdbId"`
	Monitored  bool   `json:"monitored"`
	Statistics struct {
		SeasonCount      int `json:"seasonCount"`
		EpisodeCount     int `json:"episodeCount"`
		EpisodeFileCount int `json:"episodeFileCount"`
	} `json:"statistics"`
}

// Episode is a single episode reference.
type Episode struct {
	SeasonNumber  int     `json:"seasonNumber"`
	EpisodeNumber int     `json:"episodeNumber"`
	Title         string  `json:"title"`
	Series        *Series `json:"series,omitempty"`
}

// Code renders S01E02.
func (e Episode) Code() string {
	return fmt.Sprintf("S%02dE%02d", e.SeasonNumber, e.EpisodeNumber)
}

// Sonarr is a Sonarr v3 client.
type Sonarr struct {
	*arrClient
}

// NewSonarr creates a Sonarr client.
func NewSonarr(baseURL, apiKey string) *Sonarr {
	return &Sonarr{newArrClient("Sonarr", baseURL, apiKey, "v3")}
}

// Series returns the whole library.
func (s *Sonarr) Series(ctx context.Context) ([]Series, error) {
	var series []Series
	err := s.get(ctx, "series", nil, &series)
	return series, err
}

// Lookup searches TVDB through Sonarr.
func (s *Sonarr) Lookup(ctx context.Context, term string) ([]Series, error) {
	var series []Series
	err := s.get(ctx, "series/lookup", url.Values{"term": {term}}, &series)
	return series, err
}

// Missing returns wanted episodes and the total count.
func (s *Sonarr) Missing(ctx context.Context, pageSize int) ([]Episode, int, error) {
	var page struct {
		TotalRecords int       `json:"totalRecords"`
		Records      []Episode `json:"records"`
	}
	params := url.Values{"pageSize": {fmt.Sprint(pageSize)}, "includeSeries": {"true"}}
	err := s.get(ctx, "wanted/missing", params, &page)
	return page.Records, page.TotalRecords, err
}

// Add looks term up and adds the best match, searching for missing
// episodes.
func (s *Sonarr) Add(ctx context.Context, term string) (*Series, error) {
	results, err := s.Lookup(ctx, term)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	series := results[0]

	root, profile, err := s.rootAndProfile(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"title":            series.Title,
		"tvdbId":           series.TVDBID,
		"qualityProfileId": profile,
		"rootFolderPath":   root,
		"monitored":        true,
		"addOptions":       map[string]any{"searchForMissingEpisodes": true},
	}
	if err := s.post(ctx, "series", body, nil); err != nil {
		return nil, err
	}
	return &series, nil
}

// Query answers one of status, stats, last_downloaded, recent, search
// or missing.
func (s *Sonarr) Query(ctx context.Context, queryType, seriesName string) string {
	if !s.Configured() {
		return s.notConfigured()
	}
	out, err := s.query(ctx, queryType, seriesName)
	if err != nil {
		return describeError("Sonarr", err)
	}
	return out
}

func (s *Sonarr) query(ctx context.Context, queryType, seriesName string) (string, error) {
	switch queryType {
	case "status":
		v, err := s.Status(ctx)
		if err != nil {
			return "", err
		}
		return "Sonarr is running. Version: " + v, nil

	case "stats":
		series, err := s.Series(ctx)
		if err != nil {
			return "", err
		}
		var seasons, episodes, missing int
		for _, sr := range series {
			seasons += sr.Statistics.SeasonCount
			episodes += sr.Statistics.EpisodeFileCount
			if sr.Monitored {
				missing += sr.Statistics.EpisodeCount - sr.Statistics.EpisodeFileCount
			}
		}
		return fmt.Sprintf("Sonarr Library Stats: %d TV shows, %d seasons, %d episodes downloaded, approximately %d episodes missing",
			len(series), seasons, episodes, missing), nil

	case "last_downloaded":
		records, err := s.history(ctx, 20, "series", "episode")
		if err != nil {
			return "", err
		}
		for _, h := range records {
			if h.EventType == "downloadFolderImported" && h.Series != nil && h.Episode != nil {
				return fmt.Sprintf("Last downloaded: %s %s '%s' on %s in %s",
					h.Series.Title, h.Episode.Code(), h.Episode.Title, h.day(), h.Quality.name()), nil
			}
		}
		return "No recent downloads found in Sonarr history.", nil

	case "recent":
		records, err := s.history(ctx, 10, "series", "episode")
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return "No recent activity in Sonarr.", nil
		}
		lines := []string{"Recent Sonarr Activity:"}
		for _, h := range head(records, 5) {
			title, code := "Unknown", ""
			if h.Series != nil {
				title = h.Series.Title
			}
			if h.Episode != nil {
				code = " " + h.Episode.Code()
			}
			lines = append(lines, fmt.Sprintf("- %s: %s%s (%s)", describeEvent(h.EventType), title, code, h.day()))
		}
		return strings.Join(lines, "\n"), nil

	case "search":
		if seriesName == "" {
			return "Please tell me which series to search for.", nil
		}
		results, err := s.Lookup(ctx, seriesName)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return fmt.Sprintf("No series found matching '%s'.", seriesName), nil
		}
		lines := []string{fmt.Sprintf("Found %d results:", len(results))}
		for _, sr := range head(results, 5) {
			lines = append(lines, fmt.Sprintf("- %s (%d)", sr.Title, sr.Year))
		}
		return strings.Join(lines, "\n"), nil

	case "missing":
		records, total, err := s.Missing(ctx, 20)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return "No missing episodes in Sonarr.", nil
		}
		lines := []string{fmt.Sprintf("Missing episodes (%d total):", total)}
		for _, ep := range head(records, 10) {
			title := "Unknown"
			if ep.Series != nil {
				title = ep.Series.Title
			}
			lines = append(lines, fmt.Sprintf("- %s %s: %s", title, ep.Code(), ep.Title))
		}
		return strings.Join(lines, "\n"), nil
	}
	return fmt.Sprintf("Unknown query type: %s. Supported: status, stats, last_downloaded, recent, search, missing", queryType), nil
}

// AddByName adds a series and describes the outcome.
func (s *Sonarr) AddByName(ctx context.Context, seriesName string) string {
	if !s.Configured() {
		return s.notConfigured()
	}
	sr, err := s.Add(ctx, seriesName)
	if err != nil {
		return describeError("Sonarr", err)
	}
	if sr == nil {
		return fmt.Sprintf("No series found matching '%s'.", seriesName)
	}
	return fmt.Sprintf("Added '%s' to Sonarr and started searching for episodes.", sr.Title)
}
