package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseClock reads "HH:MM" into minutes from midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed clock %q, want HH:MM", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed clock %q, want HH:MM", s)
	}
	return h*60 + m, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateOnly truncates t to midnight UTC of its calendar date, the canonical
// form for process/expiry dates.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports Mon..Fri. The hall has no holiday calendar; holiday
// closures are handled operationally, not by the engine.
func IsBusinessDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// BusinessDaysBetween counts the business days from start to end, inclusive
// of both calendar dates. A Monday-to-Friday dispatch is five business days.
// Returns 0 when end precedes start.
func BusinessDaysBetween(start, end time.Time) int {
	day := DateOnly(start)
	last := DateOnly(end)
	if last.Before(day) {
		return 0
	}
	count := 0
	for !day.After(last) {
		if IsBusinessDay(day) {
			count++
		}
		day = day.AddDate(0, 0, 1)
	}
	return count
}

// AddBusinessDays advances date by n business days, skipping weekends.
func AddBusinessDays(date time.Time, n int) time.Time {
	day := DateOnly(date)
	for added := 0; added < n; {
		day = day.AddDate(0, 0, 1)
		if IsBusinessDay(day) {
			added++
		}
	}
	return day
}

// NextBusinessDay rolls date forward to the nearest business day (possibly
// date itself).
func NextBusinessDay(date time.Time) time.Time {
	day := DateOnly(date)
	for !IsBusinessDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// ---- Rule 8: bidding window ----

// InBidWindow reports whether t falls inside the overnight bidding interval.
// The window spans midnight (open 17:00, close 08:00 by default), so the
// test is disjunctive when open > close.
func (p *Policy) InBidWindow(t time.Time) bool {
	m := minuteOfDay(t)
	if p.bidOpen > p.bidClose {
		return m >= p.bidOpen || m < p.bidClose
	}
	return m >= p.bidOpen && m < p.bidClose
}

// ---- Rule 14: daily cutoff ----

// CutoffFor is the cutoff instant on t's calendar day, in t's location.
func (p *Policy) CutoffFor(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, p.cutoff/60, p.cutoff%60, 0, 0, t.Location())
}

// BeforeCutoff reports whether a submission at t makes that day's cutoff.
func (p *Policy) BeforeCutoff(t time.Time) bool {
	return t.Before(p.CutoffFor(t))
}

// ProcessDateFor derives the morning-processing date for a request submitted
// at t: the next business day when the submission beats the cutoff, one
// business day later when it misses. The request is deferred, never rejected.
func (p *Policy) ProcessDateFor(t time.Time) time.Time {
	day := NextBusinessDay(DateOnly(t).AddDate(0, 0, 1))
	if !p.BeforeCutoff(t) {
		day = NextBusinessDay(day.AddDate(0, 0, 1))
	}
	return day
}

// RequestExpiry is the last processing date an unfilled request survives;
// past it the daily sweep expires the request.
func (p *Policy) RequestExpiry(processOn time.Time) time.Time {
	return AddBusinessDays(processOn, p.requestExpiryDays)
}
