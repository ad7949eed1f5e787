package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Movie is a Radarr library or lookup entry.
type Movie struct {
	Title     string `json:"title"`
	Year      int    `json:"year"`
	TMDBID    int    `json:"tmdbId"`
	HasFile   bool   `json:"hasFile"`
	Monitored bool   `json:"monitored"`
	MovieFile *struct {
		Quality quality `json:"quality"`
	} `json:"movieFile,omitempty"`
}

// Is4K reports whether the downloaded file is UHD.
func (m Movie) Is4K() bool {
	if !m.HasFile || m.MovieFile == nil {
		return false
	}
	q := strings.ToLower(m.MovieFile.Quality.Quality.Name)
	return strings.Contains(q, "2160") || strings.Contains(q, "4k") || strings.Contains(q, "uhd")
}

// Radarr is a Radarr v3 client.
type Radarr struct {
	*arrClient
}

// NewRadarr creates a Radarr client.
func NewRadarr(baseURL, apiKey string) *Radarr {
	return &Radarr{newArrClient("Radarr", baseURL, apiKey, "v3")}
}

// Movies returns the whole library.
func (r *Radarr) Movies(ctx context.Context) ([]Movie, error) {
	var movies []Movie
	err := r.get(ctx, "movie", nil, &movies)
	return movies, err
}

// Lookup searches TMDB through Radarr.
func (r *Radarr) Lookup(ctx context.Context, term string) ([]Movie, error) {
	var movies []Movie
	err := r.get(ctx, "movie/lookup", url.Values{"term": {term}}, &movies)
	return movies, err
}

// Missing returns monitored movies without files and the total count.
func (r *Radarr) Missing(ctx context.Context, pageSize int) ([]Movie, int, error) {
	var page struct {
		TotalRecords int     `json:"totalRecords"`
		Records      []Movie `json:"records"`
	}
	err := r.get(ctx, "wanted/missing", url.Values{"pageSize": {fmt.Sprint(pageSize)}}, &page)
	return page.Records, page.TotalRecords, err
}

// Add looks term up and adds the best match, monitored, under the first
// root folder and quality profile, then starts a search.
func (r *Radarr) Add(ctx context.Context, term string) (*Movie, error) {
	results, err := r.Lookup(ctx, term)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	movie := results[0]

	root, profile, err := r.rootAndProfile(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"title":            movie.Title,
		"tmdbId":           movie.TMDBID,
		"year":             movie.Year,
		"qualityProfileId": profile,
		"rootFolderPath":   root,
		"monitored":        true,
		"addOptions":       map[string]any{"searchForMovie": true},
	}
	if err := r.post(ctx, "movie", body, nil); err != nil {
		return nil, err
	}
	return &movie, nil
}

// Query answers one of status, stats, last_downloaded, recent, search
// or missing.
func (r *Radarr) Query(ctx context.Context, queryType, movieName string) string {
	if !r.Configured() {
		return r.notConfigured()
	}
	out, err := r.query(ctx, queryType, movieName)
	if err != nil {
		return describeError("Radarr", err)
	}
	return out
}

func (r *Radarr) query(ctx context.Context, queryType, movieName string) (string, error) {
	switch queryType {
	case "status":
		v, err := r.Status(ctx)
		if err != nil {
			return "", err
		}
		return "Radarr is running. Version: " + v, nil

	case "stats":
		movies, err := r.Movies(ctx)
		if err != nil {
			return "", err
		}
		var have, missing, uhd int
		for _, m := range movies {
			if m.HasFile {
				have++
			} else if m.Monitored {
				missing++
			}
			if m.Is4K() {
				uhd++
			}
		}
		return fmt.Sprintf("Radarr Library Stats: %d movies total, %d downloaded, %d missing, approximately %d in 4K",
			len(movies), have, missing, uhd), nil

	case "last_downloaded":
		records, err := r.history(ctx, 20, "movie")
		if err != nil {
			return "", err
		}
		for _, h := range records {
			if h.EventType == "downloadFolderImported" && h.Movie != nil {
				return fmt.Sprintf("Last downloaded: %s (%d) on %s in %s",
					h.Movie.Title, h.Movie.Year, h.day(), h.Quality.name()), nil
			}
		}
		return "No recent downloads found in Radarr history.", nil

	case "recent":
		records, err := r.history(ctx, 10, "movie")
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return "No recent activity in Radarr.", nil
		}
		lines := []string{"Recent Radarr Activity:"}
		for _, h := range head(records, 5) {
			title := "Unknown"
			if h.Movie != nil {
				title = h.Movie.Title
			}
			lines = append(lines, fmt.Sprintf("- %s: %s (%s)", describeEvent(h.EventType), title, h.day()))
		}
		return strings.Join(lines, "\n"), nil

	case "search":
		if movieName == "" {
			return "Please tell me which movie to search for.", nil
		}
		results, err := r.Lookup(ctx, movieName)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return fmt.Sprintf("No movies found matching '%s'.", movieName), nil
		}
		lines := []string{fmt.Sprintf("Found %d results:", len(results))}
		for _, m := range head(results, 5) {
			lines = append(lines, fmt.Sprintf("- %s (%d)", m.Title, m.Year))
		}
		return strings.Join(lines, "\n"), nil

	case "missing":
		records, total, err := r.Missing(ctx, 10)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			return "No missing movies in Radarr.", nil
		}
		lines := []string{fmt.Sprintf("Missing movies (%d total):", total)}
		for _, m := range head(records, 10) {
			lines = append(lines, fmt.Sprintf("- %s (%d)", m.Title, m.Year))
		}
		return strings.Join(lines, "\n"), nil
	}
	return fmt.Sprintf("Unknown query type: %s. Supported: status, stats, last_downloaded, recent, search, missing", queryType), nil
}

// AddByName adds a movie and describes the outcome.
func (r *Radarr) AddByName(ctx context.Context, movieName string) string {
	if !r.Configured() {
		return r.notConfigured()
	}
	m, err := r.Add(ctx, movieName)
	if err != nil {
		return describeError("Radarr", err)
	}
	if m == nil {
		return fmt.Sprintf("No movies found matching '%s'.", movieName)
	}
	return fmt.Sprintf("Added '%s (%d)' to Radarr and started searching.", m.Title, m.Year)
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
