package extractor

import (
	"strconv"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"golang.org/x/text/language"

	"github.com/fetcharr/fetcharr/internal/models"
)

// pickVariant selects the video variant for the requested quality.
// "best" (or empty) takes the highest bandwidth; a numeric quality such as
// "720" takes the exact vertical resolution, else the nearest below it,
// else the highest available.
func pickVariant(variants []*playlist.MultivariantVariant, quality string) *playlist.MultivariantVariant {
	if len(variants) == 0 {
		return nil
	}

	if quality == "" || quality == models.QualityBest {
		return highestBandwidth(variants)
	}

	wantHeight, err := strconv.Atoi(quality)
	if err != nil {
		return highestBandwidth(variants)
	}

	var exact, below *playlist.MultivariantVariant
	for _, v := range variants {
		h := variantHeight(v)
		if h == 0 {
			continue
		}
		switch {
		case h == wantHeight:
			if exact == nil || v.Bandwidth > exact.Bandwidth {
				exact = v
			}
		case h < wantHeight:
			if below == nil || variantHeight(below) < h ||
				(variantHeight(below) == h && v.Bandwidth > below.Bandwidth) {
				below = v
			}
		}
	}

	if exact != nil {
		return exact
	}
	if below != nil {
		return below
	}
	return highestBandwidth(variants)
}

func highestBandwidth(variants []*playlist.MultivariantVariant) *playlist.MultivariantVariant {
	best := variants[0]
	for _, v := range variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best
}

// variantHeight parses the vertical resolution from "1280x720" style strings.
func variantHeight(v *playlist.MultivariantVariant) int {
	parts := strings.SplitN(strings.ToLower(v.Resolution), "x", 2)
	if len(parts) != 2 {
		return 0
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return h
}

// matchRendition finds the rendition whose language best matches the
// requested code. BCP 47 matching handles regional variants ("en" matches
// "en-US"); renditions with unparseable language tags fall back to a
// case-insensitive prefix comparison.
func matchRendition(requested string, rends []*playlist.MultivariantRendition) *playlist.MultivariantRendition {
	if len(rends) == 0 {
		return nil
	}

	want, wantErr := language.Parse(requested)

	var tags []language.Tag
	var tagged []*playlist.MultivariantRendition
	for _, rend := range rends {
		tag, err := language.Parse(rend.Language)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		tagged = append(tagged, rend)
	}

	if wantErr == nil && len(tags) > 0 {
		matcher := language.NewMatcher(tags)
		if _, idx, conf := matcher.Match(want); conf >= language.High {
			return tagged[idx]
		}
	}

	// Fallback for nonstandard codes on either side.
	lowWant := strings.ToLower(requested)
	for _, rend := range rends {
		lowHave := strings.ToLower(rend.Language)
		if lowHave == lowWant || strings.HasPrefix(lowHave, lowWant+"-") || strings.HasPrefix(lowWant, lowHave+"-") {
			return rend
		}
	}
	return nil
}
