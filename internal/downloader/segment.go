// Package downloader turns queued tasks into finished container files. It
// schedules tasks with bounded parallelism, downloads each selected track as
// an ordered sequence of playlist segments, and hands completed tracks to
// the muxer.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/fetcharr/fetcharr/internal/httpclient"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/progress"
)

// DefaultSegmentConcurrency bounds in-flight segment fetches per track.
const DefaultSegmentConcurrency = 5

// TrackProgress is the per-track figure set passed to progress callbacks.
// TotalBytes is an estimate extrapolated from completed segments.
type TrackProgress struct {
	DownloadedBytes int64
	TotalBytes      int64
	Percent         float64
	Speed           float64
	ETASeconds      *int64
}

// SegmentDownloader downloads one media playlist per call, fetching segments
// concurrently and writing them to the track file strictly in index order.
type SegmentDownloader struct {
	client      *httpclient.Client
	logger      *slog.Logger
	concurrency int
}

// NewSegmentDownloader builds a segment downloader.
func NewSegmentDownloader(client *httpclient.Client, concurrency int, logger *slog.Logger) *SegmentDownloader {
	if concurrency < 1 {
		concurrency = DefaultSegmentConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentDownloader{
		client:      client,
		logger:      logger,
		concurrency: concurrency,
	}
}

// DownloadTrack downloads the sub-task's playlist into tempPath. The file is
// deleted on every non-success outcome so a partial track never survives.
func (d *SegmentDownloader) DownloadTrack(ctx context.Context, st *models.SubTask, tempPath string, onProgress func(TrackProgress)) models.DownloadResult {
	segments, err := d.fetchSegmentList(ctx, st.PlaylistURL)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.CancelledResult()
		}
		trackErr := &models.TrackDownloadError{
			Kind:        st.Kind,
			Language:    st.Language,
			PlaylistURL: st.PlaylistURL,
			Err:         err,
		}
		if errors.Is(err, models.ErrNotFound) {
			return models.NotFoundResult(trackErr.Error())
		}
		return models.Failure(trackErr.Error(), trackErr)
	}

	if len(segments) == 0 {
		trackErr := &models.TrackDownloadError{
			Kind:        st.Kind,
			Language:    st.Language,
			PlaylistURL: st.PlaylistURL,
			Err:         errors.New("playlist has no segments"),
		}
		return models.Failure(trackErr.Error(), trackErr)
	}

	probedTotal := d.probeTotalBytes(ctx, segments[0], len(segments))

	if err := d.writeSegments(ctx, segments, tempPath, probedTotal, onProgress); err != nil {
		os.Remove(tempPath)
		if errors.Is(err, context.Canceled) {
			return models.CancelledResult()
		}
		trackErr := &models.TrackDownloadError{
			Kind:        st.Kind,
			Language:    st.Language,
			PlaylistURL: st.PlaylistURL,
			Err:         err,
		}
		return models.Failure(trackErr.Error(), trackErr)
	}

	return models.Success("track downloaded")
}

// fetchSegmentList fetches the media playlist and resolves its segment URLs.
func (d *SegmentDownloader) fetchSegmentList(ctx context.Context, playlistURL string) ([]string, error) {
	resp, err := d.client.Get(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("playlist fetch: %w", models.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("playlist fetch: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	pl, err := playlist.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, errors.New("expected a media playlist, got a master manifest")
	}

	urls := make([]string, 0, len(media.Segments))
	for _, seg := range media.Segments {
		abs, err := resolveURL(playlistURL, seg.URI)
		if err != nil {
			return nil, fmt.Errorf("resolving segment uri %q: %w", seg.URI, err)
		}
		urls = append(urls, abs)
	}
	return urls, nil
}

// writeSegments runs the worker pool and the single in-order writer.
// Segments finish out of order; completed buffers park in a map until their
// index comes up, so the transport stream stays contiguous.
func (d *SegmentDownloader) writeSegments(ctx context.Context, segments []string, tempPath string, probedTotal int64, onProgress func(TrackProgress)) error {
	if err := os.MkdirAll(filepath.Dir(tempPath), 0o750); err != nil {
		return fmt.Errorf("creating track directory: %w", err)
	}
	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("creating track file: %w", err)
	}
	defer out.Close()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type job struct {
		index int
		url   string
	}
	type result struct {
		index int
		data  []byte
		err   error
	}

	jobs := make(chan job, len(segments))
	results := make(chan result, len(segments))

	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-workCtx.Done():
					return
				default:
				}
				data, err := d.fetchSegment(workCtx, j.url)
				results <- result{index: j.index, data: data, err: err}
			}
		}()
	}

	for i, u := range segments {
		jobs <- job{index: i, url: u}
	}
	close(jobs)

	tracker := progress.NewTracker()
	total := len(segments)
	pending := make(map[int][]byte)
	nextIndex := 0
	done := 0

	// A successful probe gives subscribers a byte total before the first
	// segment lands; completed-segment extrapolation refines it after.
	if onProgress != nil && probedTotal > 0 {
		onProgress(TrackProgress{TotalBytes: probedTotal})
	}

	for done < total {
		select {
		case <-ctx.Done():
			cancel()
			wg.Wait()
			return ctx.Err()
		case res := <-results:
			if res.err != nil {
				cancel()
				wg.Wait()
				if errors.Is(res.err, context.Canceled) && ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("segment %d: %w", res.index, res.err)
			}

			pending[res.index] = res.data
			done++
			tracker.Add(int64(len(res.data)))

			for {
				data, ok := pending[nextIndex]
				if !ok {
					break
				}
				if _, err := out.Write(data); err != nil {
					cancel()
					wg.Wait()
					return fmt.Errorf("writing segment %d: %w", nextIndex, err)
				}
				delete(pending, nextIndex)
				nextIndex++
			}

			if onProgress != nil {
				onProgress(trackProgress(tracker, done, total))
			}
		}
	}

	wg.Wait()

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing track file: %w", err)
	}
	return nil
}

// probeTotalBytes estimates the track size by probing the first segment
// with a one-byte range request and scaling its Content-Range total across
// the playlist. Servers that ignore ranges answer 200 and the total stays
// unknown until segments start completing.
func (d *SegmentDownloader) probeTotalBytes(ctx context.Context, segmentURL string, count int) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segmentURL, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return 0
	}
	// Content-Range: bytes 0-0/<size>
	contentRange := resp.Header.Get("Content-Range")
	slash := strings.LastIndexByte(contentRange, '/')
	if slash < 0 {
		return 0
	}
	size, err := strconv.ParseInt(contentRange[slash+1:], 10, 64)
	if err != nil || size <= 0 {
		return 0
	}
	return size * int64(count)
}

// fetchSegment downloads one segment body. Transient failures are retried
// inside the http client; a non-2xx that survives retries is final.
func (d *SegmentDownloader) fetchSegment(ctx context.Context, segmentURL string) ([]byte, error) {
	resp, err := d.client.Get(ctx, segmentURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// trackProgress derives the callback figures. The byte total extrapolates
// the mean completed-segment size across the whole playlist.
func trackProgress(tracker *progress.Tracker, done, total int) TrackProgress {
	snap := tracker.Snapshot()
	estimated := snap.Downloaded
	if done > 0 && done < total {
		estimated = snap.Downloaded / int64(done) * int64(total)
	}
	return TrackProgress{
		DownloadedBytes: snap.Downloaded,
		TotalBytes:      estimated,
		Percent:         progress.PercentByCount(done, total),
		Speed:           snap.Speed,
		ETASeconds:      progress.ETA(snap.Downloaded, estimated, snap.Speed),
	}
}

// resolveURL resolves a possibly relative reference against its playlist.
func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
