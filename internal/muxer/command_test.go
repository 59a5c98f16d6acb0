package muxer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFullCommand(t *testing.T) {
	b := NewCommandBuilder("ffmpeg").
		Video("/tmp/t1/video.ts").
		Audio("/tmp/t1/audio.en.ts", "en", "Audio (en)").
		Audio("/tmp/t1/audio.fr.ts", "fr", "Audio (fr)").
		Subtitle("/tmp/t1/sub.en.vtt", "en", "Subtitles (en)").
		Output("/downloads/movies/Fight.Club.1999.mp4")

	args := b.Build()
	joined := strings.Join(args, " ")

	// Inputs in video, audio, subtitle order.
	assert.Equal(t,
		[]string{"/tmp/t1/video.ts", "/tmp/t1/audio.en.ts", "/tmp/t1/audio.fr.ts", "/tmp/t1/sub.en.vtt"},
		b.InputPaths())
	assert.Contains(t, joined, "-i /tmp/t1/video.ts -i /tmp/t1/audio.en.ts -i /tmp/t1/audio.fr.ts -i /tmp/t1/sub.en.vtt")

	// Explicit stream maps.
	assert.Contains(t, joined, "-map 0:v:0")
	assert.Contains(t, joined, "-map 1:a:0")
	assert.Contains(t, joined, "-map 2:a:0")
	assert.Contains(t, joined, "-map 3:s:0")

	// Stream copy for video/audio, mov_text for subtitles.
	assert.Contains(t, joined, "-c:v copy -c:a copy")
	assert.Contains(t, joined, "-c:s mov_text")

	// Per-stream metadata.
	assert.Contains(t, joined, "-metadata:s:a:0 language=en")
	assert.Contains(t, joined, "-metadata:s:a:1 language=fr")
	assert.Contains(t, joined, "-metadata:s:s:0 language=en")
	assert.Contains(t, joined, "-metadata:s:a:0 title=Audio (en)")

	// Default dispositions on first audio and first subtitle.
	assert.Contains(t, joined, "-disposition:a:0 default")
	assert.Contains(t, joined, "-disposition:s:0 default")

	// Overwrite flag with the output last.
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "-y", args[len(args)-2])
	assert.Equal(t, "/downloads/movies/Fight.Club.1999.mp4", args[len(args)-1])
}

func TestBuildWithoutSubtitles(t *testing.T) {
	args := NewCommandBuilder("").
		Video("/tmp/v.ts").
		Audio("/tmp/a.ts", "en", "").
		Output("/out.mp4").
		Build()
	joined := strings.Join(args, " ")

	assert.NotContains(t, joined, "mov_text")
	assert.NotContains(t, joined, "-disposition:s:0")
	assert.Contains(t, joined, "-disposition:a:0 default")
}

func TestBuildIsDeterministic(t *testing.T) {
	build := func() []string {
		return NewCommandBuilder("ffmpeg").
			Video("/v.ts").
			Audio("/a.ts", "en", "Audio (en)").
			Subtitle("/s.vtt", "en", "Subtitles (en)").
			Output("/out.mp4").
			Build()
	}

	assert.Equal(t, build(), build())
}

func TestBuilderDefaultsToPathBinary(t *testing.T) {
	b := NewCommandBuilder("")
	assert.True(t, strings.HasPrefix(b.String(), "ffmpeg "))
}
