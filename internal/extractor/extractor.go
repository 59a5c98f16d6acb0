// Package extractor resolves a catalogue reference into per-track playlist
// descriptors: it fetches the provider's embed page, locates the master
// manifest, and selects variants and renditions against the request.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fetcharr/fetcharr/internal/httpclient"
	"github.com/fetcharr/fetcharr/internal/models"
)

// Request describes what to resolve.
type Request struct {
	Kind        models.MediaKind
	CatalogueID string
	Season      int
	Episode     int
	// Languages are the requested audio and subtitle languages, in caller
	// preference order.
	Languages []string
	// Quality is "best" or a vertical resolution such as "720".
	Quality string
}

// Resolution is the outcome of a successful resolve: one video track,
// matched audio and subtitle tracks, and the requested languages that had no
// rendition.
type Resolution struct {
	Tracks           []*models.SubTask
	MissingLanguages []string
	MissingSubtitles []string
}

// Resolver turns catalogue references into playlist descriptors.
type Resolver struct {
	baseURL string
	client  *httpclient.Client
	logger  *slog.Logger
}

// NewResolver creates a resolver against the provider at baseURL.
func NewResolver(baseURL string, client *httpclient.Client, logger *slog.Logger) *Resolver {
	return &Resolver{
		baseURL: baseURL,
		client:  client,
		logger:  logger.With("component", "extractor"),
	}
}

// EmbedURL builds the provider embed page URL for a catalogue reference.
func (r *Resolver) EmbedURL(req Request) string {
	if req.Kind == models.KindTV {
		return fmt.Sprintf("%s/embed/tv/%s/%d/%d", r.baseURL, req.CatalogueID, req.Season, req.Episode)
	}
	return fmt.Sprintf("%s/embed/movie/%s", r.baseURL, req.CatalogueID)
}

// Resolve fetches and parses the embed page and master manifest. It returns
// models.ErrNotFound (wrapped) when the content does not exist upstream and
// *models.PlaylistExtractionError for malformed pages or manifests.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	embedURL := r.EmbedURL(req)

	page, err := r.fetch(ctx, embedURL, req.CatalogueID)
	if err != nil {
		return nil, err
	}

	manifestURL, err := findManifestURL(page, embedURL)
	if err != nil {
		return nil, &models.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: err}
	}

	manifest, err := r.fetch(ctx, manifestURL, req.CatalogueID)
	if err != nil {
		return nil, err
	}

	resolution, err := buildTracks(manifest, manifestURL, req)
	if err != nil {
		return nil, &models.PlaylistExtractionError{EmbedURL: embedURL, CatalogueID: req.CatalogueID, Err: err}
	}

	r.logger.Debug("resolved playlists",
		slog.String("catalogue_id", req.CatalogueID),
		slog.Int("tracks", len(resolution.Tracks)),
		slog.Any("missing_languages", resolution.MissingLanguages),
	)
	return resolution, nil
}

// fetch retrieves a URL through the retryable client, mapping 404 to
// ErrNotFound and other non-2xx statuses to extraction errors.
func (r *Resolver) fetch(ctx context.Context, url, catalogueID string) ([]byte, error) {
	resp, err := r.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &models.PlaylistExtractionError{
			EmbedURL:    url,
			CatalogueID: catalogueID,
			Err:         fmt.Errorf("%w: upstream returned %d", models.ErrNotFound, resp.StatusCode),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &models.PlaylistExtractionError{
			EmbedURL:    url,
			CatalogueID: catalogueID,
			Err:         fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.PlaylistExtractionError{EmbedURL: url, CatalogueID: catalogueID, Err: err}
	}
	return body, nil
}
