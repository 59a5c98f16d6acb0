package muxer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Regex patterns for parsing ffmpeg stderr output.
var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d+):(\d+):(\d+)\.(\d+)`)
	sizeRe     = regexp.MustCompile(`size=\s*(\d+(?:\.\d+)?)\s*([kKmM]?B)?`)
	bitrateRe  = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
)

// Update is one parsed progress sample from a frame line.
type Update struct {
	SizeBytes int64
	Time      time.Duration
	Bitrate   string
	// Percent is nil until a Duration header has been seen.
	Percent *float64
}

// Parser extracts progress from ffmpeg stderr, one line at a time. It is
// stateful: the Duration header parsed early feeds the percentage of later
// frame lines. Reset it between invocations.
type Parser struct {
	totalDuration time.Duration
}

// NewParser creates a parser with no latent state.
func NewParser() *Parser {
	return &Parser{}
}

// Reset clears all latent state so the parser can be reused for the next
// invocation.
func (p *Parser) Reset() {
	p.totalDuration = 0
}

// TotalDuration returns the duration parsed from the header, or zero.
func (p *Parser) TotalDuration() time.Duration {
	return p.totalDuration
}

// ParseLine consumes one stderr line. Duration headers update internal state
// and return no sample; frame lines with size=/time=/bitrate= return a
// sample; anything else returns false.
func (p *Parser) ParseLine(line string) (Update, bool) {
	if m := durationRe.FindStringSubmatch(line); m != nil {
		p.totalDuration = clockToDuration(m)
		return Update{}, false
	}
	// "Duration: N/A" and unrelated lines fall through.

	if !strings.Contains(line, "time=") || !strings.Contains(line, "size=") {
		return Update{}, false
	}

	var update Update

	if m := sizeRe.FindStringSubmatch(line); m != nil {
		value, _ := strconv.ParseFloat(m[1], 64)
		update.SizeBytes = int64(value * unitMultiplier(m[2]))
	}
	if m := timeRe.FindStringSubmatch(line); m != nil {
		update.Time = clockToDuration(m)
	}
	if m := bitrateRe.FindStringSubmatch(line); m != nil {
		update.Bitrate = strings.TrimSpace(m[1])
	}

	if p.totalDuration > 0 {
		percent := update.Time.Seconds() / p.totalDuration.Seconds() * 100
		if percent > 100 {
			percent = 100
		}
		if percent < 0 {
			percent = 0
		}
		update.Percent = &percent
	}

	return update, true
}

// unitMultiplier maps ffmpeg size suffixes to bytes. ffmpeg prints kB for
// kibibytes; the binary interpretation is kept deliberately.
func unitMultiplier(unit string) float64 {
	switch strings.ToLower(unit) {
	case "kb":
		return 1024
	case "mb":
		return 1024 * 1024
	default:
		return 1
	}
}

// clockToDuration converts HH:MM:SS.ff regex captures. The fractional field
// is centiseconds, as ffmpeg prints it.
func clockToDuration(m []string) time.Duration {
	hours, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	centis, _ := strconv.Atoi(m[4])
	return time.Duration(hours)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second +
		time.Duration(centis)*10*time.Millisecond
}
