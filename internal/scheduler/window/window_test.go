package window

import (
	"testing"
	"time"

	"github.com/acme/campaign-orchestrator/internal/domain"
)

func mustSchedule(date string, start, end, tz string) *domain.Schedule {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return &domain.Schedule{ScheduledDate: d, ScheduledTime: start, EndTime: end, TimeZone: tz}
}

func TestShouldStart(t *testing.T) {
	sched := mustSchedule("2026-07-31", "10:00", "18:00", "UTC")

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before window", time.Date(2026, 7, 31, 9, 59, 0, 0, time.UTC), false},
		{"at open", time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC), true},
		{"within grace", time.Date(2026, 7, 31, 10, 29, 0, 0, time.UTC), true},
		{"past grace", time.Date(2026, 7, 31, 10, 31, 0, 0, time.UTC), false},
		{"after end", time.Date(2026, 7, 31, 19, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldStart(sched, tc.now, Options{}); got != tc.want {
				t.Errorf("ShouldStart(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestShouldStop(t *testing.T) {
	sched := mustSchedule("2026-07-31", "10:00", "18:00", "UTC")

	if ShouldStop(sched, time.Date(2026, 7, 31, 17, 59, 0, 0, time.UTC)) {
		t.Fatal("expected window still open")
	}
	if !ShouldStop(sched, time.Date(2026, 7, 31, 18, 0, 0, 0, time.UTC)) {
		t.Fatal("expected window closed at end instant")
	}
}

func TestPastMidnightWindow(t *testing.T) {
	sched := mustSchedule("2026-07-31", "22:00", "02:00", "UTC")

	if !ShouldStart(sched, time.Date(2026, 7, 31, 22, 5, 0, 0, time.UTC), Options{}) {
		t.Fatal("expected window to have started shortly after 22:00")
	}
	if ShouldStop(sched, time.Date(2026, 8, 1, 1, 59, 0, 0, time.UTC)) {
		t.Fatal("expected window still open just before 02:00 next day")
	}
	if !ShouldStop(sched, time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)) {
		t.Fatal("expected window closed at 02:00 next day")
	}
}

func TestCanResumeInWindowAcrossDays(t *testing.T) {
	sched := mustSchedule("2026-07-31", "10:00", "10:05", "America/New_York")

	// Next day, 10:02 local time should be resumable even though
	// ScheduledDate still names the original day.
	loc, _ := time.LoadLocation("America/New_York")
	nextDay := time.Date(2026, 8, 1, 10, 2, 0, 0, loc)
	if !CanResumeInWindow(sched, nextDay) {
		t.Fatalf("expected %v to be resumable the next day", nextDay)
	}

	outsideWindow := time.Date(2026, 8, 1, 11, 0, 0, 0, loc)
	if CanResumeInWindow(sched, outsideWindow) {
		t.Fatalf("expected %v to be outside the resumable window", outsideWindow)
	}
}

func TestInvalidTimezoneFallsBackToUTC(t *testing.T) {
	sched := mustSchedule("2026-07-31", "10:00", "18:00", "Not/AZone")

	_, _, fellBack := Bounds(sched, time.Now())
	if !fellBack {
		t.Fatal("expected fallback flag to be set for an invalid timezone")
	}
}
