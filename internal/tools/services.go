package tools

import (
	"context"
	"fmt"
	"strings"
)

var libraryQueries = []string{"status", "stats", "last_downloaded", "recent", "search", "missing"}

func (b *builtins) registerMedia(r *Registry) {
	r.Register(&Tool{
		Name:        "query_radarr",
		Description: "Ask Radarr about the movie library: status, stats, last_downloaded, recent, search (needs movie_name) or missing.",
		Parameters: object(map[string]any{
			"query_type": enum("What to look up", libraryQueries...),
			"movie_name": prop("string", "Movie title for search"),
		}, "query_type"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			qt, err := requireString(args, "query_type")
			if err != nil {
				return "", err
			}
			return b.Radarr.Query(ctx, qt, optString(args, "movie_name", "")), nil
		},
	})

	r.Register(&Tool{
		Name:        "add_to_radarr",
		Description: "Add a movie to Radarr and start searching for it.",
		Parameters: object(map[string]any{
			"movie_name": prop("string", "Movie title, optionally with year"),
		}, "movie_name"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := requireString(args, "movie_name")
			if err != nil {
				return "", err
			}
			return b.Radarr.AddByName(ctx, name), nil
		},
	})

	r.Register(&Tool{
		Name:        "query_sonarr",
		Description: "Ask Sonarr about the TV library: status, stats, last_downloaded, recent, search (needs series_name) or missing.",
		Parameters: object(map[string]any{
			"query_type":  enum("What to look up", libraryQueries...),
			"series_name": prop("string", "Series title for search"),
		}, "query_type"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			qt, err := requireString(args, "query_type")
			if err != nil {
				return "", err
			}
			return b.Sonarr.Query(ctx, qt, optString(args, "series_name", "")), nil
		},
	})

	r.Register(&Tool{
		Name:        "add_to_sonarr",
		Description: "Add a TV series to Sonarr and start searching for missing episodes.",
		Parameters: object(map[string]any{
			"series_name": prop("string", "Series title"),
		}, "series_name"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name, err := requireString(args, "series_name")
			if err != nil {
				return "", err
			}
			return b.Sonarr.AddByName(ctx, name), nil
		},
	})

	r.Register(&Tool{
		Name:        "query_qbittorrent",
		Description: "Ask qBittorrent about downloads: status, stats, speed, downloading or completed.",
		Parameters: object(map[string]any{
			"query_type": enum("What to look up", "status", "stats", "speed", "downloading", "completed"),
		}, "query_type"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			qt, err := requireString(args, "query_type")
			if err != nil {
				return "", err
			}
			return b.QBittorrent.Query(ctx, qt), nil
		},
	})

	r.Register(&Tool{
		Name:        "query_prowlarr",
		Description: "Ask Prowlarr about indexers: status, stats or indexers.",
		Parameters: object(map[string]any{
			"query_type": enum("What to look up", "status", "stats", "indexers"),
		}, "query_type"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			qt, err := requireString(args, "query_type")
			if err != nil {
				return "", err
			}
			return b.Prowlarr.Query(ctx, qt), nil
		},
	})

	r.Register(&Tool{
		Name:        "check_vpn_status",
		Description: "Check whether the download VPN is up by comparing qBittorrent's connection with the home WAN address.",
		Parameters:  object(map[string]any{}),
		Handler:     b.handleVPNStatus,
	})
}

func (b *builtins) handleVPNStatus(ctx context.Context, _ map[string]any) (string, error) {
	if !b.QBittorrent.Configured() {
		return "Error: qBittorrent URL not configured.", nil
	}
	info, err := b.QBittorrent.Transfer(ctx)
	if err != nil {
		b.logger.Warn("vpn check could not reach qBittorrent", "error", err)
		return "Cannot reach qBittorrent. The VM or qBittorrent may be offline.", nil
	}

	homeIP := ""
	if b.Network != nil {
		homeIP = b.Network.WANIP(ctx)
	}

	switch info.ConnectionStatus {
	case "connected", "firewalled":
		if homeIP != "" {
			return fmt.Sprintf("VPN appears connected. qBittorrent is online and %s. Home WAN IP: %s.", info.ConnectionStatus, homeIP), nil
		}
		return "qBittorrent is connected and online. VPN likely working. (Could not verify home IP)", nil
	case "disconnected":
		return "VPN may be DOWN! qBittorrent reports disconnected status. Check the VPN on the download VM.", nil
	}
	if homeIP == "" {
		homeIP = "unknown"
	}
	return fmt.Sprintf("VPN status uncertain. qBittorrent status: %s. Home IP: %s", info.ConnectionStatus, homeIP), nil
}

func (b *builtins) registerServices(r *Registry) {
	r.Register(&Tool{
		Name:        "query_unifi_network",
		Description: "Ask about the home network: wan_ip, devices, uptime, bandwidth or stats.",
		Parameters: object(map[string]any{
			"query_type": enum("What to look up", "wan_ip", "devices", "uptime", "bandwidth", "stats"),
		}, "query_type"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			qt, err := requireString(args, "query_type")
			if err != nil {
				return "", err
			}
			if b.Network == nil {
				return "Error: UniFi controller and Home Assistant connection not configured.", nil
			}
			return b.Network.Query(ctx, strings.ToLower(qt)), nil
		},
	})

	r.Register(&Tool{
		Name:        "add_calendar_event",
		Description: "Add an event to the calendar. date_time accepts phrases like 'tomorrow at 2pm' or '2026-12-25 14:00'.",
		Parameters: object(map[string]any{
			"title":            prop("string", "Event title"),
			"date_time":        prop("string", "When the event starts"),
			"duration_minutes": prop("integer", "Length in minutes (default 60)"),
			"description":      prop("string", "Optional notes"),
		}, "title", "date_time"),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			title, err := requireString(args, "title")
			if err != nil {
				return "", err
			}
			when, err := requireString(args, "date_time")
			if err != nil {
				return "", err
			}
			if b.Calendar == nil {
				return "Error: Calendar not configured.", nil
			}
			return b.Calendar.Add(ctx, title, when, optInt(args, "duration_minutes", 60), optString(args, "description", "")), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_calendar_events",
		Description: "List upcoming calendar events.",
		Parameters: object(map[string]any{
			"days_ahead": prop("integer", "How many days to look ahead (default 7)"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if b.Calendar == nil {
				return "Error: Calendar not configured.", nil
			}
			return b.Calendar.Upcoming(ctx, optInt(args, "days_ahead", 7)), nil
		},
	})
}
