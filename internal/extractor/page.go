package extractor

import (
	"bytes"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// errNoManifest is wrapped into a PlaylistExtractionError by the caller.
var errNoManifest = errors.New("no playlist reference found in embed page")

// scriptManifestRe finds manifest URLs assigned inside player setup scripts,
// e.g. file:"https://cdn.example/master.m3u8".
var scriptManifestRe = regexp.MustCompile(`(?:file|src|source|url)\s*[:=]\s*["']([^"']+\.m3u8[^"']*)["']`)

// findManifestURL locates the master manifest reference in an embed page.
// Markup attributes are preferred; player scripts are the fallback.
func findManifestURL(page []byte, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", err
	}

	var found string
	doc.Find("video source[src], source[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if src := s.AttrOr("src", ""); strings.Contains(src, ".m3u8") {
			found = src
			return false
		}
		return true
	})

	if found == "" {
		doc.Find("[data-file], [data-src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src := s.AttrOr("data-file", s.AttrOr("data-src", ""))
			if strings.Contains(src, ".m3u8") {
				found = src
				return false
			}
			return true
		})
	}

	if found == "" {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := scriptManifestRe.FindStringSubmatch(s.Text()); m != nil {
				found = m[1]
				return false
			}
			return true
		})
	}

	if found == "" {
		return "", errNoManifest
	}
	return absoluteURL(pageURL, found)
}

// absoluteURL resolves ref against base when ref is relative.
func absoluteURL(base, ref string) (string, error) {
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if refURL.IsAbs() {
		return ref, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
