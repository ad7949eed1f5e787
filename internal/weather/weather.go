// Package weather fetches current conditions and a short precipitation
// outlook from Open-Meteo. No API key is required.
package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// ErrCityNotFound is returned when geocoding finds no match.
var ErrCityNotFound = errors.New("city not found")

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"

	// rainProbabilityThreshold is the hourly probability, in percent,
	// above which rain is considered likely.
	rainProbabilityThreshold = 30
)

// Client is an Open-Meteo client.
type Client struct {
	geocodeURL  string
	forecastURL string
	httpClient  *http.Client
}

// NewClient creates a weather client.
func NewClient() *Client {
	return &Client{
		geocodeURL:  defaultGeocodeURL,
		forecastURL: defaultForecastURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithRetry(1, time.Second),
		),
	}
}

// Report is the current weather plus an outlook over Hours hours.
type Report struct {
	Location      string
	Temperature   float64
	WindSpeed     float64
	Hours         int
	MaxRainChance int
	TotalRainfall float64
}

// RainLikely reports whether an umbrella is warranted.
func (r Report) RainLikely() bool {
	return r.MaxRainChance > rainProbabilityThreshold || r.TotalRainfall > 0
}

// String renders the report for the model.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Weather in %s:\n", r.Location)
	fmt.Fprintf(&sb, "Current: %g°C, Wind: %g km/h\n", r.Temperature, r.WindSpeed)
	if r.RainLikely() {
		fmt.Fprintf(&sb, "\nRain likely in next %d hours:\n", r.Hours)
		fmt.Fprintf(&sb, "Max precipitation probability: %d%%\n", r.MaxRainChance)
		if r.TotalRainfall > 0 {
			fmt.Fprintf(&sb, "Expected rainfall: %.1fmm\n", r.TotalRainfall)
		}
		sb.WriteString("Recommendation: Bring an umbrella!")
	} else {
		fmt.Fprintf(&sb, "\nNo significant rain expected in next %d hours\n", r.Hours)
		sb.WriteString("No umbrella needed!")
	}
	return sb.String()
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WindSpeed   float64 `json:"windspeed"`
	} `json:"current_weather"`
	Hourly struct {
		Time                     []string  `json:"time"`
		PrecipitationProbability []int     `json:"precipitation_probability"`
		Precipitation            []float64 `json:"precipitation"`
	} `json:"hourly"`
}

// Forecast geocodes city and returns its weather over the next hours.
func (c *Client) Forecast(ctx context.Context, city string, hours int) (*Report, error) {
	if hours <= 0 {
		hours = 12
	}

	geoParams := url.Values{
		"name":     {city},
		"count":    {"1"},
		"language": {"en"},
		"format":   {"json"},
	}
	var geo geocodeResponse
	if err := httpkit.GetJSON(ctx, c.httpClient, c.geocodeURL+"?"+geoParams.Encode(), nil, &geo); err != nil {
		return nil, fmt.Errorf("geocode %s: %w", city, err)
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("%s: %w", city, ErrCityNotFound)
	}
	place := geo.Results[0]

	params := url.Values{
		"latitude":        {fmt.Sprint(place.Latitude)},
		"longitude":       {fmt.Sprint(place.Longitude)},
		"current_weather": {"true"},
		"hourly":          {"temperature_2m,precipitation_probability,precipitation,rain,weathercode"},
		"forecast_days":   {"1"},
		"timezone":        {"auto"},
	}
	var fc forecastResponse
	if err := httpkit.GetJSON(ctx, c.httpClient, c.forecastURL+"?"+params.Encode(), nil, &fc); err != nil {
		return nil, fmt.Errorf("forecast %s: %w", place.Name, err)
	}

	report := &Report{
		Location:    place.Name,
		Temperature: fc.CurrentWeather.Temperature,
		WindSpeed:   fc.CurrentWeather.WindSpeed,
		Hours:       hours,
	}
	if probs := head(fc.Hourly.PrecipitationProbability, hours); len(probs) > 0 {
		report.MaxRainChance = slices.Max(probs)
	}
	for _, mm := range head(fc.Hourly.Precipitation, hours) {
		report.TotalRainfall += mm
	}
	return report, nil
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
