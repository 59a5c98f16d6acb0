package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/httpclient"
	"github.com/fetcharr/fetcharr/internal/models"
)

func testHTTPClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 20 * time.Millisecond
	return httpclient.New(cfg)
}

func testSegmentDownloader(concurrency int) *SegmentDownloader {
	return NewSegmentDownloader(testHTTPClient(), concurrency, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// mediaPlaylist builds a playlist with n segments named seg0.ts..segN.ts.
func mediaPlaylist(n int) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:6.000,\nseg%d.ts\n", i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func TestDownloadTrackWritesSegmentsInOrder(t *testing.T) {
	const segments = 8
	mux := http.NewServeMux()
	mux.HandleFunc("/track.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(segments))
	})
	for i := 0; i < segments; i++ {
		mux.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			// Earlier segments respond slower so completions arrive out of
			// order and exercise the reorder buffer.
			time.Sleep(time.Duration(segments-i) * 5 * time.Millisecond)
			_, _ = fmt.Fprintf(w, "[segment %s]", strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/seg"), ".ts"))
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	d := testSegmentDownloader(4)
	st := models.NewSubTask(models.TrackVideo, "", server.URL+"/track.m3u8")
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	res := d.DownloadTrack(context.Background(), st, tempPath, nil)
	require.True(t, res.Succeeded(), "message: %s", res.Message)

	data, err := os.ReadFile(tempPath)
	require.NoError(t, err)

	var want strings.Builder
	for i := 0; i < segments; i++ {
		fmt.Fprintf(&want, "[segment %d]", i)
	}
	assert.Equal(t, want.String(), string(data))
}

func TestDownloadTrackReportsProgress(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/track.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(4))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	d := testSegmentDownloader(2)
	st := models.NewSubTask(models.TrackAudio, "en", server.URL+"/track.m3u8")

	var updates []TrackProgress
	res := d.DownloadTrack(context.Background(), st, filepath.Join(t.TempDir(), "audio.en.ts"), func(p TrackProgress) {
		updates = append(updates, p)
	})
	require.True(t, res.Succeeded())
	require.Len(t, updates, 4)

	last := updates[len(updates)-1]
	assert.InDelta(t, 100, last.Percent, 0.01)
	assert.Equal(t, int64(40), last.DownloadedBytes)
	assert.Equal(t, int64(40), last.TotalBytes)
}

func TestDownloadTrackProbesTotalBytes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/track.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(4))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", "bytes 0-0/10")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = io.WriteString(w, "0")
			return
		}
		_, _ = io.WriteString(w, "0123456789")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	d := testSegmentDownloader(2)
	st := models.NewSubTask(models.TrackVideo, "", server.URL+"/track.m3u8")

	var updates []TrackProgress
	res := d.DownloadTrack(context.Background(), st, filepath.Join(t.TempDir(), "video.ts"), func(p TrackProgress) {
		updates = append(updates, p)
	})
	require.True(t, res.Succeeded())
	require.NotEmpty(t, updates)

	// The probe announces the scaled byte total before any segment lands.
	assert.Equal(t, int64(40), updates[0].TotalBytes)
	assert.Zero(t, updates[0].DownloadedBytes)

	last := updates[len(updates)-1]
	assert.Equal(t, int64(40), last.DownloadedBytes)
	assert.Equal(t, int64(40), last.TotalBytes)
}

func TestDownloadTrackPlaylistNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	d := testSegmentDownloader(2)
	st := models.NewSubTask(models.TrackVideo, "", server.URL+"/gone.m3u8")

	res := d.DownloadTrack(context.Background(), st, filepath.Join(t.TempDir(), "video.ts"), nil)
	assert.Equal(t, models.ResultNotFound, res.Status)
}

func TestDownloadTrackEmptyPlaylist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/track.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXT-X-ENDLIST\n")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	d := testSegmentDownloader(2)
	st := models.NewSubTask(models.TrackVideo, "", server.URL+"/track.m3u8")

	res := d.DownloadTrack(context.Background(), st, filepath.Join(t.TempDir(), "video.ts"), nil)
	assert.Equal(t, models.ResultFailed, res.Status)

	var trackErr *models.TrackDownloadError
	require.True(t, errors.As(res.Err, &trackErr))
	assert.Equal(t, models.TrackVideo, trackErr.Kind)
}

func TestDownloadTrackSegmentFailureRemovesFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/track.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(3))
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	mux.HandleFunc("/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/seg2.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	d := testSegmentDownloader(2)
	st := models.NewSubTask(models.TrackVideo, "", server.URL+"/track.m3u8")
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	res := d.DownloadTrack(context.Background(), st, tempPath, nil)
	assert.Equal(t, models.ResultFailed, res.Status)
	assert.NoFileExists(t, tempPath)
}

func TestDownloadTrackCancellationRemovesFile(t *testing.T) {
	var served atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/track.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(4))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) > 1 {
			// Later segments hang until the client gives up.
			<-r.Context().Done()
			return
		}
		_, _ = io.WriteString(w, "data")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	d := testSegmentDownloader(2)
	st := models.NewSubTask(models.TrackVideo, "", server.URL+"/track.m3u8")
	tempPath := filepath.Join(t.TempDir(), "video.ts")

	res := d.DownloadTrack(ctx, st, tempPath, nil)
	assert.Equal(t, models.ResultCancelled, res.Status)
	assert.NoFileExists(t, tempPath)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		ref  string
		want string
	}{
		{"relative", "https://cdn.example/hls/track.m3u8", "seg0.ts", "https://cdn.example/hls/seg0.ts"},
		{"absolute", "https://cdn.example/hls/track.m3u8", "https://other.example/seg0.ts", "https://other.example/seg0.ts"},
		{"rooted", "https://cdn.example/hls/track.m3u8", "/media/seg0.ts", "https://cdn.example/media/seg0.ts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveURL(tt.base, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
