package acquisition

import (
	"strconv"
	"strings"
)

// EventKind classifies one line of yt-dlp output.
type EventKind int

const (
	EventNone EventKind = iota
	EventDestination
	EventAlreadyDownloaded
	EventMerge
	EventProgress
	EventError
)

type parserState int

const (
	stateIdle parserState = iota
	stateDownloading
	stateMerging
	stateDone
)

// Event is what a line told the parser.
type Event struct {
	Kind     EventKind
	Path     string
	Progress float64
	Message  string
}

// OutputParser follows yt-dlp's line-buffered stdout and works out which file
// the run ends up producing. A merge line overrides any earlier destination;
// after a merge, later per-format destinations are ignored.
type OutputParser struct {
	state       parserState
	destination string
	progress    float64
	lastError   string
}

const (
	destinationPrefix = "[download] Destination: "
	downloadPrefix    = "[download] "
	alreadySuffix     = " has already been downloaded"
	mergerPrefix      = "[Merger] Merging formats into "
	errorPrefix       = "ERROR: "
)

// Feed consumes one line.
func (p *OutputParser) Feed(line string) Event {
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, destinationPrefix):
		path := strings.TrimSpace(strings.TrimPrefix(line, destinationPrefix))
		if p.state != stateMerging && p.state != stateDone {
			p.destination = path
			p.state = stateDownloading
		}
		return Event{Kind: EventDestination, Path: path}

	case strings.HasPrefix(line, mergerPrefix):
		path := unquote(strings.TrimPrefix(line, mergerPrefix))
		p.destination = path
		p.state = stateMerging
		return Event{Kind: EventMerge, Path: path}

	case strings.HasPrefix(line, downloadPrefix) && strings.HasSuffix(line, alreadySuffix):
		path := strings.TrimSuffix(strings.TrimPrefix(line, downloadPrefix), alreadySuffix)
		p.destination = path
		p.state = stateDone
		return Event{Kind: EventAlreadyDownloaded, Path: path}

	case strings.HasPrefix(line, downloadPrefix):
		if pct, ok := parsePercent(strings.TrimPrefix(line, downloadPrefix)); ok {
			p.progress = pct
			return Event{Kind: EventProgress, Progress: pct}
		}

	case strings.HasPrefix(line, errorPrefix):
		p.lastError = strings.TrimPrefix(line, errorPrefix)
		return Event{Kind: EventError, Message: p.lastError}
	}

	return Event{Kind: EventNone}
}

// Destination is the final output path, empty when none was announced.
func (p *OutputParser) Destination() string { return p.destination }

// Progress is the last reported download percentage.
func (p *OutputParser) Progress() float64 { return p.progress }

// LastError is the last "ERROR:" line, without the prefix.
func (p *OutputParser) LastError() string { return p.lastError }

func parsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, '%')
	if i <= 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
