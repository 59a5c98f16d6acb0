package downloader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetcharr/fetcharr/internal/catalogue"
	"github.com/fetcharr/fetcharr/internal/extractor"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/muxer"
	"github.com/fetcharr/fetcharr/internal/progress"
	"github.com/fetcharr/fetcharr/internal/storage"
)

const testMasterManifest = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio-en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2",AUDIO="aud"
video-1080.m3u8
`

// fakeProvider serves an embed page, a master manifest, two media playlists
// and their segments.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/movie/550", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><script>var p = {file:"/hls/master.m3u8"};</script></body></html>`)
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, testMasterManifest)
	})
	mux.HandleFunc("/hls/video-1080.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(2))
	})
	mux.HandleFunc("/hls/audio-en.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(2))
	})
	mux.HandleFunc("/hls/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "segment-zero")
	})
	mux.HandleFunc("/hls/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "segment-one")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// fakeCatalogue serves movie 550 metadata.
func fakeCatalogue(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/movie/550", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"title":"Fight Club","release_date":"1999-10-15"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// fakeMuxerScript writes a shell script standing in for ffmpeg.
func fakeMuxerScript(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

// successfulMuxer creates the output file named by the last argument.
const successfulMuxer = `
for last in "$@"; do :; done
echo muxed > "$last"
exit 0
`

type testStack struct {
	queue  *Queue
	layout *storage.Layout
	bus    *progress.Bus
}

func newTestStack(t *testing.T, providerURL, catalogueURL, muxerBinary string) *testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	layout, err := storage.NewLayout(
		filepath.Join(root, "movies"),
		filepath.Join(root, "tvshows"),
		filepath.Join(root, "temp"),
	)
	require.NoError(t, err)

	client := testHTTPClient()
	resolver := extractor.NewResolver(providerURL, client, logger)

	catalogueClient := catalogue.NewClient(catalogue.Config{
		APIKey:  "test-key",
		BaseURL: catalogueURL,
		Logger:  logger,
	})
	if catalogueURL == "" {
		catalogueClient = catalogue.NewClient(catalogue.Config{Logger: logger})
	}

	segments := NewSegmentDownloader(client, 2, logger)
	supervisor := muxer.NewSupervisor(muxerBinary, time.Minute, time.Second, logger)
	bus := progress.NewBus(logger, 64)

	runner := NewRunner(resolver, catalogueClient, segments, supervisor, layout, bus, "best", "en", logger)
	queue := NewQueue(runner, bus, 2, logger)

	require.NoError(t, queue.Start(context.Background()))
	t.Cleanup(queue.Stop)

	return &testStack{queue: queue, layout: layout, bus: bus}
}

// waitTerminal polls until the task reaches a terminal state.
func waitTerminal(t *testing.T, q *Queue, id models.ID) *models.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := q.Get(id)
		require.NoError(t, err)
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state")
	return nil
}

func TestHappyMovieDownload(t *testing.T) {
	provider := fakeProvider(t)
	catalogueServer := fakeCatalogue(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, catalogueServer.URL, binary)

	sub := stack.bus.Subscribe("")
	t.Cleanup(func() { stack.bus.Unsubscribe(sub.ID) })

	task := models.NewTask(models.KindMovie, "550")
	task.Languages = []string{"en"}
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.InDelta(t, 100, final.Progress, 0.01)
	assert.Equal(t, "Fight Club", final.Title)
	assert.Equal(t, "Fight.Club.1999.mp4", filepath.Base(final.OutputPath))
	assert.FileExists(t, final.OutputPath)
	assert.NoDirExists(t, stack.layout.TaskTempDir(task.ID))

	require.Len(t, final.SubTasks, 2)
	for _, st := range final.SubTasks {
		assert.Equal(t, models.StatusCompleted, st.Status)
	}

	// A task-level completed update must have been published.
	sawCompleted := false
	for done := false; !done; {
		select {
		case u := <-sub.Events:
			if u.IsTaskLevel() && u.Status == models.StatusCompleted {
				sawCompleted = true
				done = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawCompleted)
}

func TestMissingLanguageIsRecordedAsMetadata(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	task.Languages = []string{"en", "ja"}
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)

	require.NotNil(t, final.Result)
	assert.ElementsMatch(t, []string{"ja"}, final.Result.Metadata[models.MetaMissingLanguages])
}

func TestDisabledCatalogueFallsBackToCatalogueID(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, "550", final.Title)
	assert.Equal(t, "550.mp4", filepath.Base(final.OutputPath))
}

func TestMuxerFailureFailsTask(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, `
echo "boom" >&2
exit 1
`)
	stack := newTestStack(t, provider.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "exit code 1")
	assert.NoFileExists(t, final.OutputPath)
	assert.NoDirExists(t, stack.layout.TaskTempDir(task.ID))
}

func TestContentNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, server.URL, "", binary)

	task := models.NewTask(models.KindMovie, "99999")
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusNotFound, final.Status)
}

func TestCancelDuringEndlessRetries(t *testing.T) {
	// The provider answers 503 forever, so extraction retries until the
	// task context is cancelled.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, server.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(task))

	require.Eventually(t, func() bool {
		got, err := stack.queue.Get(task.ID)
		require.NoError(t, err)
		return got.Status == models.StatusExtracting
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, stack.queue.Cancel(task.ID))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusCancelled, final.Status)
	assert.NoDirExists(t, stack.layout.TaskTempDir(task.ID))
}

func TestCancelQueuedTask(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)
	stack.queue.Stop() // no workers: tasks stay queued

	task := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(task))
	require.NoError(t, stack.queue.Cancel(task.ID))

	got, err := stack.queue.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestCancelUnknownTask(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	err := stack.queue.Cancel(models.NewID())
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestGetAndListSnapshots(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	_, err := stack.queue.Get(models.NewID())
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	first := models.NewTask(models.KindMovie, "550")
	second := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(first))
	require.NoError(t, stack.queue.Enqueue(second))

	list := stack.queue.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	waitTerminal(t, stack.queue, first.ID)
	waitTerminal(t, stack.queue, second.ID)
}

func TestEnqueueDuplicate(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(task))
	assert.Error(t, stack.queue.Enqueue(task))

	waitTerminal(t, stack.queue, task.ID)
}

const testSubtitledManifest = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio-en.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="subs-en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2",AUDIO="aud",SUBTITLES="subs"
video-1080.m3u8
`

// fakeSubtitledProvider is fakeProvider plus a subtitle rendition whose
// playlist points at a segment the server never serves.
func fakeSubtitledProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/movie/550", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><script>var p = {file:"/hls/master.m3u8"};</script></body></html>`)
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, testSubtitledManifest)
	})
	mux.HandleFunc("/hls/video-1080.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(2))
	})
	mux.HandleFunc("/hls/audio-en.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(2))
	})
	mux.HandleFunc("/hls/subs-en.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.000,\nsub-gone.vtt\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/hls/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "segment-zero")
	})
	mux.HandleFunc("/hls/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "segment-one")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSubtitleDownloadFailureStillCompletes(t *testing.T) {
	provider := fakeSubtitledProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	task.Languages = []string{"en"}
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.FileExists(t, final.OutputPath)

	require.NotNil(t, final.Result)
	assert.ElementsMatch(t, []string{"en"}, final.Result.Metadata[models.MetaMissingSubtitles])
	assert.Empty(t, final.Result.Metadata[models.MetaMissingLanguages])

	require.Len(t, final.SubTasks, 3)
	for _, st := range final.SubTasks {
		if st.Kind == models.TrackSubtitle {
			assert.Equal(t, models.StatusFailed, st.Status)
		} else {
			assert.Equal(t, models.StatusCompleted, st.Status)
		}
	}
}

func TestAllAudioFailedFailsTask(t *testing.T) {
	// The provider advertises an English rendition but its playlist is gone,
	// so the only requested audio track cannot be downloaded.
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/movie/550", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><script>var p = {file:"/hls/master.m3u8"};</script></body></html>`)
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, testMasterManifest)
	})
	mux.HandleFunc("/hls/video-1080.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist(2))
	})
	mux.HandleFunc("/hls/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "segment-zero")
	})
	mux.HandleFunc("/hls/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "segment-one")
	})
	broken := httptest.NewServer(mux)
	t.Cleanup(broken.Close)

	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, broken.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	task.Languages = []string{"en"}
	require.NoError(t, stack.queue.Enqueue(task))

	final := waitTerminal(t, stack.queue, task.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Equal(t, "no audio track available", final.ErrorMessage)
	assert.NoFileExists(t, final.OutputPath)
	assert.NoDirExists(t, stack.layout.TaskTempDir(task.ID))
}

func TestSnapshotsDuringActiveDownload(t *testing.T) {
	provider := fakeProvider(t)
	catalogueServer := fakeCatalogue(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, catalogueServer.URL, binary)

	task := models.NewTask(models.KindMovie, "550")
	task.Languages = []string{"en"}
	require.NoError(t, stack.queue.Enqueue(task))

	// Hammer the snapshot path while the runner mutates the task. Catches
	// unlocked writes when the suite runs under the race detector.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if snap, err := stack.queue.Get(task.ID); err == nil {
					_ = snap.Title
					_ = snap.OutputPath
					for _, st := range snap.SubTasks {
						_ = st.Progress
					}
				}
				for _, snap := range stack.queue.List() {
					_ = snap.TempDir
				}
			}
		}()
	}

	final := waitTerminal(t, stack.queue, task.ID)
	close(stop)
	wg.Wait()

	assert.Equal(t, models.StatusCompleted, final.Status)
}

func TestInUse(t *testing.T) {
	provider := fakeProvider(t)
	binary := fakeMuxerScript(t, successfulMuxer)
	stack := newTestStack(t, provider.URL, "", binary)

	task := models.NewTask(models.KindMovie, "550")
	require.NoError(t, stack.queue.Enqueue(task))
	waitTerminal(t, stack.queue, task.ID)

	assert.False(t, stack.queue.InUse(task.ID.String()))
	assert.False(t, stack.queue.InUse("unknown"))
}
