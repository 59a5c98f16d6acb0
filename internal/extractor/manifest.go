package extractor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/fetcharr/fetcharr/internal/models"
)

// buildTracks parses the manifest and selects tracks per the request. A bare
// media playlist yields a single video track carrying muxed audio; a master
// manifest yields the selected variant plus matched renditions.
func buildTracks(manifest []byte, manifestURL string, req Request) (*Resolution, error) {
	pl, err := playlist.Unmarshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	switch p := pl.(type) {
	case *playlist.Media:
		video := models.NewSubTask(models.TrackVideo, "", manifestURL)
		return &Resolution{Tracks: []*models.SubTask{video}}, nil

	case *playlist.Multivariant:
		return buildFromMultivariant(p, manifestURL, req)

	default:
		return nil, errors.New("unsupported playlist type")
	}
}

func buildFromMultivariant(mv *playlist.Multivariant, manifestURL string, req Request) (*Resolution, error) {
	variant := pickVariant(mv.Variants, req.Quality)
	if variant == nil {
		return nil, errors.New("master manifest has no variants")
	}

	videoURL, err := absoluteURL(manifestURL, variant.URI)
	if err != nil {
		return nil, fmt.Errorf("resolving variant uri: %w", err)
	}

	video := models.NewSubTask(models.TrackVideo, "", videoURL)
	video.Resolution = variant.Resolution
	video.Bitrate = int64(variant.Bandwidth)
	video.Codec = strings.Join(variant.Codecs, ",")

	resolution := &Resolution{Tracks: []*models.SubTask{video}}

	audios := renditionsOf(mv, playlist.MultivariantRenditionTypeAudio, variant.Audio)
	subtitles := renditionsOf(mv, playlist.MultivariantRenditionTypeSubtitles, variant.Subtitles)

	seen := map[string]bool{}
	for _, lang := range req.Languages {
		rend := matchRendition(lang, audios)
		if rend == nil {
			resolution.MissingLanguages = append(resolution.MissingLanguages, lang)
		} else if !seen["a/"+rend.Language] {
			seen["a/"+rend.Language] = true
			audioURL, err := absoluteURL(manifestURL, *rend.URI)
			if err != nil {
				return nil, fmt.Errorf("resolving audio uri: %w", err)
			}
			st := models.NewSubTask(models.TrackAudio, lang, audioURL)
			st.Codec = rend.Name
			resolution.Tracks = append(resolution.Tracks, st)
		}

		sub := matchRendition(lang, subtitles)
		if sub == nil {
			resolution.MissingSubtitles = append(resolution.MissingSubtitles, lang)
		} else if !seen["s/"+sub.Language] {
			seen["s/"+sub.Language] = true
			subURL, err := absoluteURL(manifestURL, *sub.URI)
			if err != nil {
				return nil, fmt.Errorf("resolving subtitle uri: %w", err)
			}
			resolution.Tracks = append(resolution.Tracks, models.NewSubTask(models.TrackSubtitle, lang, subURL))
		}
	}

	return resolution, nil
}

// renditionsOf returns renditions of the given type with a fetchable URI.
// When the selected variant names a group, only that group is considered.
func renditionsOf(mv *playlist.Multivariant, typ playlist.MultivariantRenditionType, groupID string) []*playlist.MultivariantRendition {
	var out []*playlist.MultivariantRendition
	for _, rend := range mv.Renditions {
		if rend.Type != typ || rend.URI == nil || *rend.URI == "" {
			continue
		}
		if groupID != "" && rend.GroupID != groupID {
			continue
		}
		out = append(out, rend)
	}
	return out
}
