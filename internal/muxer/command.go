// Package muxer drives the external ffmpeg binary that merges downloaded
// tracks into the final container file.
package muxer

import (
	"fmt"
	"strings"

	"github.com/fetcharr/fetcharr/internal/models"
)

// DefaultBinary is looked up on PATH when no explicit path is configured.
const DefaultBinary = "ffmpeg"

// Input is one source file for the mux.
type Input struct {
	Path     string
	Kind     models.TrackKind
	Language string
	Title    string
}

// CommandBuilder assembles the deterministic mux command line: inputs in
// video, audio, subtitle order, explicit stream maps, stream copy for video
// and audio, and mov_text subtitles for mp4 compatibility.
type CommandBuilder struct {
	binary    string
	video     *Input
	audios    []Input
	subtitles []Input
	output    string
}

// NewCommandBuilder creates a builder for the given binary path.
func NewCommandBuilder(binary string) *CommandBuilder {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CommandBuilder{binary: binary}
}

// Video sets the single video input.
func (b *CommandBuilder) Video(path string) *CommandBuilder {
	b.video = &Input{Path: path, Kind: models.TrackVideo}
	return b
}

// Audio appends an audio input. Order is preserved in the output.
func (b *CommandBuilder) Audio(path, language, title string) *CommandBuilder {
	b.audios = append(b.audios, Input{Path: path, Kind: models.TrackAudio, Language: language, Title: title})
	return b
}

// Subtitle appends a subtitle input. Order is preserved in the output.
func (b *CommandBuilder) Subtitle(path, language, title string) *CommandBuilder {
	b.subtitles = append(b.subtitles, Input{Path: path, Kind: models.TrackSubtitle, Language: language, Title: title})
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(path string) *CommandBuilder {
	b.output = path
	return b
}

// InputPaths returns the input files in mux order.
func (b *CommandBuilder) InputPaths() []string {
	paths := make([]string, 0, 1+len(b.audios)+len(b.subtitles))
	if b.video != nil {
		paths = append(paths, b.video.Path)
	}
	for _, in := range b.audios {
		paths = append(paths, in.Path)
	}
	for _, in := range b.subtitles {
		paths = append(paths, in.Path)
	}
	return paths
}

// Build produces the full argument vector. It is pure: identical builder
// state yields an identical argv.
func (b *CommandBuilder) Build() []string {
	args := []string{"-hide_banner", "-loglevel", "info", "-stats"}

	for _, path := range b.InputPaths() {
		args = append(args, "-i", path)
	}

	// Stream maps: video first, then audios, then subtitles, each taking the
	// first stream of its kind from its own input.
	audioBase := 1
	if b.video == nil {
		audioBase = 0
	}
	args = append(args, "-map", "0:v:0")
	for i := range b.audios {
		args = append(args, "-map", fmt.Sprintf("%d:a:0", audioBase+i))
	}
	subBase := audioBase + len(b.audios)
	for i := range b.subtitles {
		args = append(args, "-map", fmt.Sprintf("%d:s:0", subBase+i))
	}

	args = append(args, "-c:v", "copy", "-c:a", "copy")
	if len(b.subtitles) > 0 {
		args = append(args, "-c:s", "mov_text")
	}

	for i, in := range b.audios {
		if in.Language != "" {
			args = append(args, fmt.Sprintf("-metadata:s:a:%d", i), "language="+in.Language)
		}
		if in.Title != "" {
			args = append(args, fmt.Sprintf("-metadata:s:a:%d", i), "title="+in.Title)
		}
	}
	for i, in := range b.subtitles {
		if in.Language != "" {
			args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "language="+in.Language)
		}
		if in.Title != "" {
			args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "title="+in.Title)
		}
	}

	if len(b.audios) > 0 {
		args = append(args, "-disposition:a:0", "default")
	}
	if len(b.subtitles) > 0 {
		args = append(args, "-disposition:s:0", "default")
	}

	args = append(args, "-y", b.output)
	return args
}

// String returns the command as a display string.
func (b *CommandBuilder) String() string {
	return b.binary + " " + strings.Join(b.Build(), " ")
}
