// Package window implements the pure TimeWindow evaluator: given a
// campaign's Schedule and a wall-clock instant, it decides start/stop/resume
// eligibility in the schedule's named timezone.
package window

import (
	"time"

	"github.com/acme/campaign-orchestrator/internal/domain"
)

// StartGrace is the default grace period after a window opens during which
// a restarted process may still pick it up. Overridable via Options.
const StartGrace = 30 * time.Minute

// Options tunes the grace period; zero value uses StartGrace.
type Options struct {
	StartGrace time.Duration
}

func (o Options) grace() time.Duration {
	if o.StartGrace > 0 {
		return o.StartGrace
	}
	return StartGrace
}

// Bounds resolves a schedule's start (S) and end (E) instants on
// schedule.ScheduledDate's calendar date in the schedule's timezone; now does
// not affect the result. If end-time-of-day is earlier than
// start-time-of-day, E rolls to the next calendar day (past-midnight
// windows). An invalid or unknown timezone degrades to UTC.
func Bounds(schedule *domain.Schedule, now time.Time) (start, end time.Time, usedFallbackTZ bool) {
	loc, err := time.LoadLocation(schedule.TimeZone)
	if err != nil {
		loc = time.UTC
		usedFallbackTZ = true
	}

	local := now.In(loc)
	date := schedule.ScheduledDate

	startHour, startMin := parseHHMM(schedule.ScheduledTime)
	start = time.Date(date.Year(), date.Month(), date.Day(), startHour, startMin, 0, 0, loc)

	endHour, endMin := parseHHMM(schedule.EndTime)
	end = time.Date(date.Year(), date.Month(), date.Day(), endHour, endMin, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	_ = local
	return start, end, usedFallbackTZ
}

// TodayBounds is like Bounds but anchors the calendar date to now's date in
// the schedule's timezone rather than schedule.ScheduledDate. Used by
// CanResumeInWindow, which must evaluate against *today's* window on
// whichever day a paused-time-window campaign is revisited.
func TodayBounds(schedule *domain.Schedule, now time.Time) (start, end time.Time, usedFallbackTZ bool) {
	loc, err := time.LoadLocation(schedule.TimeZone)
	if err != nil {
		loc = time.UTC
		usedFallbackTZ = true
	}

	local := now.In(loc)
	startHour, startMin := parseHHMM(schedule.ScheduledTime)
	start = time.Date(local.Year(), local.Month(), local.Day(), startHour, startMin, 0, 0, loc)

	endHour, endMin := parseHHMM(schedule.EndTime)
	end = time.Date(local.Year(), local.Month(), local.Day(), endHour, endMin, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	return start, end, usedFallbackTZ
}

// ShouldStart reports whether now falls within the grace period
// (opts.StartGrace, default StartGrace = 30 minutes) after the scheduled
// start and before the scheduled end.
func ShouldStart(schedule *domain.Schedule, now time.Time, opts Options) bool {
	start, end, _ := Bounds(schedule, now)
	local := now.In(start.Location())
	return !local.Before(start) && local.Before(start.Add(opts.grace())) && local.Before(end)
}

// ShouldStop reports whether now has reached or passed the scheduled end.
func ShouldStop(schedule *domain.Schedule, now time.Time) bool {
	_, end, _ := Bounds(schedule, now)
	local := now.In(end.Location())
	return !local.Before(end)
}

// CanResumeInWindow reports whether now falls within today's start/end
// bounds, evaluated fresh for the current calendar day in the schedule's
// timezone. A paused-time-window campaign may reopen on a subsequent day at
// the same daily hour.
func CanResumeInWindow(schedule *domain.Schedule, now time.Time) bool {
	start, end, _ := TodayBounds(schedule, now)
	local := now.In(start.Location())
	return !local.Before(start) && local.Before(end)
}

func parseHHMM(value string) (hour, minute int) {
	if len(value) != 5 || value[2] != ':' {
		return 0, 0
	}
	h := int(value[0]-'0')*10 + int(value[1]-'0')
	m := int(value[3]-'0')*10 + int(value[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0
	}
	return h, m
}
