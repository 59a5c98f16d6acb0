// Package catalogue looks up display metadata (title, year, episode name)
// for catalogue ids against a TMDB-compatible API. Lookups are best effort:
// a disabled or failing catalogue never blocks a download, the task simply
// falls back to the raw catalogue id as its title.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/models"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

// maxBodySize bounds metadata response reads.
const maxBodySize = 512 * 1024

// Metadata is the display information attached to a task after lookup.
type Metadata struct {
	Title       string
	Year        int
	EpisodeName string
}

// Client fetches movie and episode metadata. The zero APIKey disables it.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Config configures a catalogue Client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// NewClient builds a Client. A nil http client gets a sane default.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Enabled reports whether an api key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Lookup resolves display metadata for a task's catalogue id. When the
// client is disabled or the lookup fails, the returned metadata carries the
// catalogue id as the title so the caller always has something to name the
// output file with.
func (c *Client) Lookup(ctx context.Context, kind models.MediaKind, catalogueID string, season, episode int) Metadata {
	fallback := Metadata{Title: catalogueID}
	if !c.Enabled() {
		return fallback
	}

	var (
		meta Metadata
		err  error
	)
	switch kind {
	case models.KindTV:
		meta, err = c.lookupEpisode(ctx, catalogueID, season, episode)
	default:
		meta, err = c.lookupMovie(ctx, catalogueID)
	}
	if err != nil {
		c.logger.Warn("catalogue lookup failed, using catalogue id as title",
			"catalogue_id", catalogueID,
			"kind", string(kind),
			"error", err)
		return fallback
	}
	if meta.Title == "" {
		meta.Title = catalogueID
	}
	return meta
}

type movieResponse struct {
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
}

type showResponse struct {
	Name         string `json:"name"`
	FirstAirDate string `json:"first_air_date"`
}

type episodeResponse struct {
	Name string `json:"name"`
}

func (c *Client) lookupMovie(ctx context.Context, id string) (Metadata, error) {
	var movie movieResponse
	if err := c.get(ctx, "/movie/"+url.PathEscape(id), &movie); err != nil {
		return Metadata{}, err
	}
	return Metadata{Title: movie.Title, Year: yearOf(movie.ReleaseDate)}, nil
}

func (c *Client) lookupEpisode(ctx context.Context, id string, season, episode int) (Metadata, error) {
	var show showResponse
	if err := c.get(ctx, "/tv/"+url.PathEscape(id), &show); err != nil {
		return Metadata{}, err
	}
	meta := Metadata{Title: show.Name, Year: yearOf(show.FirstAirDate)}

	// The episode name is decoration; a miss here does not fail the lookup.
	path := fmt.Sprintf("/tv/%s/season/%d/episode/%d", url.PathEscape(id), season, episode)
	var ep episodeResponse
	if err := c.get(ctx, path, &ep); err != nil {
		c.logger.Debug("episode name lookup failed",
			"catalogue_id", id,
			"season", season,
			"episode", episode,
			"error", err)
		return meta, nil
	}
	meta.EpisodeName = ep.Name
	return meta, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	reqURL := c.baseURL + path + "?api_key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("catalogue HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// yearOf extracts the year from a "2006-01-02" style date.
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
