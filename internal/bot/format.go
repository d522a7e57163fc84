package bot

import (
	"fmt"
	"time"

	"chanbot/internal/model"
)

const timestampLayout = "2006-01-02 15:04:05 MST"

// FormatComplaint describes earlier sightings of a URL in loc.
func FormatComplaint(p model.PriorSeen, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	first := p.First.In(loc).Format(timestampLayout)
	if p.Count <= 1 {
		return fmt.Sprintf("Old URL, first seen %s by %s", first, p.Nick)
	}
	last := p.Last.In(loc).Format(timestampLayout)
	return fmt.Sprintf("Old URL, seen %d times, first %s by %s, last %s", p.Count, first, p.Nick, last)
}

// FormatTitle quotes a page title for the channel.
func FormatTitle(title string) string {
	return `"` + title + `"`
}

// FormatCapture formats one URL command result.
func FormatCapture(c string) string {
	return "--> " + c
}
