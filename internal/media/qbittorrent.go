package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// ErrAuthFailed is returned when qBittorrent rejects the credentials.
var ErrAuthFailed = errors.New("qBittorrent authentication failed")

// Torrent is an entry from /torrents/info.
type Torrent struct {
	Name     string  `json:"name"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	ETA      int64   `json:"eta"`
	Size     int64   `json:"size"`
}

// TransferInfo is the global transfer state.
type TransferInfo struct {
	ConnectionStatus string `json:"connection_status"`
	DownloadSpeed    int64  `json:"dl_info_speed"`
	UploadSpeed      int64  `json:"up_info_speed"`
}

// QBittorrent is a qBittorrent Web API v2 client. The session cookie
// lives in the client's cookie jar.
type QBittorrent struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// NewQBittorrent creates a client. Credentials may be empty when the
// Web UI bypasses auth for local clients.
func NewQBittorrent(baseURL, username, password string) *QBittorrent {
	return &QBittorrent{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithCookieJar(),
		),
	}
}

// Configured reports whether a URL is set.
func (q *QBittorrent) Configured() bool { return q != nil && q.baseURL != "" }

func (q *QBittorrent) login(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.loggedIn || q.username == "" || q.password == "" {
		return nil
	}

	form := url.Values{"username": {q.username}, "password": {q.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.baseURL+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", q.baseURL)

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode != http.StatusOK || strings.Contains(string(body), "Fails") {
		return ErrAuthFailed
	}
	q.loggedIn = true
	return nil
}

func (q *QBittorrent) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := q.login(ctx); err != nil {
		return err
	}
	u := q.baseURL + "/api/v2/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	err := httpkit.GetJSON(ctx, q.httpClient, u, nil, out)
	var se *httpkit.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
		// Session expired; log in again on the next call.
		q.mu.Lock()
		q.loggedIn = false
		q.mu.Unlock()
	}
	return err
}

// Version returns the application version.
func (q *QBittorrent) Version(ctx context.Context) (string, error) {
	if err := q.login(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.baseURL+"/api/v2/app/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode != http.StatusOK {
		return "", &httpkit.StatusError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 256)}
	}
	v, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	return strings.TrimSpace(string(v)), err
}

// Transfer returns global transfer info.
func (q *QBittorrent) Transfer(ctx context.Context) (*TransferInfo, error) {
	var info TransferInfo
	if err := q.get(ctx, "transfer/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Torrents lists torrents, optionally filtered and sorted.
func (q *QBittorrent) Torrents(ctx context.Context, filter, sort string, reverse bool) ([]Torrent, error) {
	params := url.Values{}
	if filter != "" {
		params.Set("filter", filter)
	}
	if sort != "" {
		params.Set("sort", sort)
	}
	if reverse {
		params.Set("reverse", "true")
	}
	var ts []Torrent
	err := q.get(ctx, "torrents/info", params, &ts)
	return ts, err
}

// DescribeConnection renders a connection_status value.
func DescribeConnection(status string) string {
	switch status {
	case "connected":
		return "Connected and working"
	case "firewalled":
		return "Connected but firewalled (incoming connections blocked)"
	case "disconnected":
		return "DISCONNECTED - Check VPN! Downloads will not work."
	}
	return "Status: " + status
}

// Query answers one of status, stats, speed, downloading or completed.
func (q *QBittorrent) Query(ctx context.Context, queryType string) string {
	if !q.Configured() {
		return "Error: qBittorrent URL not configured."
	}
	out, err := q.query(ctx, queryType)
	if errors.Is(err, ErrAuthFailed) {
		return "Error: qBittorrent authentication failed."
	}
	if err != nil {
		return describeError("qBittorrent", err)
	}
	return out
}

func (q *QBittorrent) query(ctx context.Context, queryType string) (string, error) {
	switch queryType {
	case "status":
		v, err := q.Version(ctx)
		if err != nil {
			return "", err
		}
		info, err := q.Transfer(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("qBittorrent is running (%s). Connection: %s", v, DescribeConnection(info.ConnectionStatus)), nil

	case "stats":
		ts, err := q.Torrents(ctx, "", "", false)
		if err != nil {
			return "", err
		}
		var dl, seed, paused int
		for _, t := range ts {
			switch t.State {
			case "downloading", "stalledDL", "metaDL", "forcedDL":
				dl++
			case "uploading", "stalledUP", "forcedUP":
				seed++
			}
			if strings.Contains(strings.ToLower(t.State), "paused") {
				paused++
			}
		}
		return fmt.Sprintf("qBittorrent Stats: %d torrents total, %d downloading, %d seeding, %d paused",
			len(ts), dl, seed, paused), nil

	case "speed":
		info, err := q.Transfer(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("qBittorrent Speed: down %.1f MB/s, up %.1f MB/s",
			float64(info.DownloadSpeed)/1024/1024, float64(info.UploadSpeed)/1024/1024), nil

	case "downloading":
		ts, err := q.Torrents(ctx, "downloading", "", false)
		if err != nil {
			return "", err
		}
		if len(ts) == 0 {
			return "No torrents currently downloading.", nil
		}
		lines := []string{fmt.Sprintf("Downloading (%d torrents):", len(ts))}
		for _, t := range head(ts, 5) {
			lines = append(lines, fmt.Sprintf("- %s: %.0f%% (ETA: %s)", truncate(t.Name, 50), t.Progress*100, formatETA(t.ETA)))
		}
		return strings.Join(lines, "\n"), nil

	case "completed":
		ts, err := q.Torrents(ctx, "completed", "completion_on", true)
		if err != nil {
			return "", err
		}
		if len(ts) == 0 {
			return "No completed torrents found.", nil
		}
		lines := []string{"Recently Completed:"}
		for _, t := range head(ts, 5) {
			lines = append(lines, fmt.Sprintf("- %s (%.1f GB)", truncate(t.Name, 50), float64(t.Size)/1024/1024/1024))
		}
		return strings.Join(lines, "\n"), nil
	}
	return fmt.Sprintf("Unknown query type: %s. Supported: status, stats, speed, downloading, completed", queryType), nil
}

// formatETA renders seconds as "1h 5m". qBittorrent reports 8640000
// for "infinite".
func formatETA(secs int64) string {
	if secs <= 0 || secs >= 86400*30 {
		return "unknown"
	}
	d := time.Duration(secs) * time.Second
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
