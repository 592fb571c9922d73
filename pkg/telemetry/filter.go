// Package telemetry filters raw sim-app event streams down to the
// recent-activity summary that drives idle detection.
package telemetry

import (
	"regexp"
	"sort"
	"time"

	"simfleet/pkg/logger"
)

// CategoryUserActivity is the event category driven by human interaction.
// Only this category is additionally filtered by actor pattern, so the idle
// clock is not reset by automated system accounts.
const CategoryUserActivity = "user_activity"

// timestampFormats is the ordered list of accepted event timestamp layouts:
// with and without fractional seconds, with and without a UTC marker.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Event is one raw telemetry event as reported by the sim app.
type Event struct {
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
	ActorID   string `json:"actor_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ParseTimestamp parses an event timestamp against the accepted layouts.
// Naive timestamps are treated as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampFormats {
		if t, err := time.Parse(layout, raw); err == nil {
			// Layouts without a zone marker parse as UTC, which is the
			// intended treatment for naive timestamps.
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FilterRelevantEvents keeps events that are strictly newer than since, belong
// to one of the relevant categories, and (for user activity) do not originate
// from an excluded actor. Events with unparseable timestamps are skipped and
// logged, never abort the batch. Equal-to-since timestamps are excluded so the
// boundary event is not reprocessed.
func FilterRelevantEvents(events []Event, relevantCategories []string, excludeActorPattern string, since *time.Time) []Event {
	categories := make(map[string]struct{}, len(relevantCategories))
	for _, c := range relevantCategories {
		categories[c] = struct{}{}
	}

	var excludeRe *regexp.Regexp
	if excludeActorPattern != "" {
		re, err := regexp.Compile(excludeActorPattern)
		if err != nil {
			logger.Warnf("invalid actor exclusion pattern %q, ignoring: %v", excludeActorPattern, err)
		} else {
			excludeRe = re
		}
	}

	filtered := make([]Event, 0, len(events))
	for _, ev := range events {
		ts, ok := ParseTimestamp(ev.Timestamp)
		if !ok {
			logger.Debugf("skipping telemetry event with unparseable timestamp %q", ev.Timestamp)
			continue
		}
		if since != nil && !ts.After(since.UTC()) {
			continue
		}
		if _, ok := categories[ev.Category]; !ok {
			continue
		}
		if ev.Category == CategoryUserActivity && excludeRe != nil && excludeRe.MatchString(ev.ActorID) {
			continue
		}
		filtered = append(filtered, ev)
	}
	return filtered
}

// MostRecentEvents sorts events descending by parsed timestamp and truncates
// to maxCount. When timestamps cannot be compared (malformed data), the first
// maxCount events are returned unsorted rather than failing the caller.
func MostRecentEvents(events []Event, maxCount int) []Event {
	if maxCount <= 0 || len(events) == 0 {
		return nil
	}

	parsed := make([]time.Time, len(events))
	sortable := true
	for i, ev := range events {
		ts, ok := ParseTimestamp(ev.Timestamp)
		if !ok {
			sortable = false
			break
		}
		parsed[i] = ts
	}

	result := append([]Event(nil), events...)
	if sortable {
		sort.SliceStable(result, func(i, j int) bool {
			ti, _ := ParseTimestamp(result[i].Timestamp)
			tj, _ := ParseTimestamp(result[j].Timestamp)
			return ti.After(tj)
		})
	}

	if len(result) > maxCount {
		result = result[:maxCount]
	}
	return result
}

// LatestActivityTimestamp returns the maximum parseable timestamp in the
// batch, or nil for empty or fully-malformed input.
func LatestActivityTimestamp(events []Event) *time.Time {
	var latest *time.Time
	for _, ev := range events {
		ts, ok := ParseTimestamp(ev.Timestamp)
		if !ok {
			continue
		}
		if latest == nil || ts.After(*latest) {
			t := ts
			latest = &t
		}
	}
	return latest
}
