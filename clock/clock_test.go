package clock

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestManual_FiresInDeadlineOrder(t *testing.T) {
	c := NewManual(start)
	var fired []string

	c.AfterFunc(3*time.Minute, func() { fired = append(fired, "c") })
	c.AfterFunc(1*time.Minute, func() { fired = append(fired, "a") })
	c.AfterFunc(2*time.Minute, func() { fired = append(fired, "b") })

	c.Advance(90 * time.Second)
	check.Equal(t, []string{"a"}, fired)
	check.Equal(t, start.Add(90*time.Second), c.Now())

	c.Advance(time.Hour)
	check.Equal(t, []string{"a", "b", "c"}, fired)
	check.Equal(t, 0, c.Pending())
}

func TestManual_NowDuringCallbackIsDeadline(t *testing.T) {
	c := NewManual(start)
	var seen time.Time
	c.AfterFunc(time.Minute, func() { seen = c.Now() })

	c.Advance(10 * time.Minute)

	check.Equal(t, start.Add(time.Minute), seen)
	check.Equal(t, start.Add(10*time.Minute), c.Now())
}

func TestManual_StopPreventsFire(t *testing.T) {
	c := NewManual(start)
	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	check.True(t, timer.Stop())
	check.False(t, timer.Stop())

	c.Advance(time.Hour)
	check.False(t, fired)
}

func TestManual_CallbackSchedulesInsideWindow(t *testing.T) {
	c := NewManual(start)
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Minute, tick)
	}
	c.AfterFunc(time.Minute, tick)

	c.Advance(5 * time.Minute)

	check.Equal(t, 5, count)
	check.Equal(t, 1, c.Pending())
}

func TestManual_SetNeverMovesBackwards(t *testing.T) {
	c := NewManual(start)
	c.Set(start.Add(-time.Hour))
	check.Equal(t, start, c.Now())
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	c := NewManual(start)
	s := NewScheduler(c)
	var fired []string

	s.ScheduleAt("close:a1", start.Add(10*time.Minute), func() { fired = append(fired, "first") })
	s.ScheduleAt("close:a1", start.Add(12*time.Minute), func() { fired = append(fired, "second") })

	c.Advance(11 * time.Minute)
	check.Equal(t, 0, len(fired))
	check.True(t, s.Pending("close:a1"))

	c.Advance(time.Minute)
	check.Equal(t, []string{"second"}, fired)
	check.False(t, s.Pending("close:a1"))
}

func TestScheduler_Cancel(t *testing.T) {
	c := NewManual(start)
	s := NewScheduler(c)
	fired := false

	s.ScheduleAt("tick:a1", start.Add(time.Minute), func() { fired = true })
	s.Cancel("tick:a1")
	c.Advance(time.Hour)

	check.False(t, fired)
	check.False(t, s.Pending("tick:a1"))
}

func TestScheduler_PastDeadlineFiresOnNextAdvance(t *testing.T) {
	c := NewManual(start)
	s := NewScheduler(c)
	fired := false

	s.ScheduleAt("open:a1", start.Add(-time.Minute), func() { fired = true })
	c.Advance(0)

	check.True(t, fired)
}

func TestScheduler_StopIgnoresLaterSchedules(t *testing.T) {
	c := NewManual(start)
	s := NewScheduler(c)
	count := 0

	s.ScheduleAt("a", start.Add(time.Minute), func() { count++ })
	s.Stop()
	s.ScheduleAt("b", start.Add(time.Minute), func() { count++ })
	c.Advance(time.Hour)

	check.Equal(t, 0, count)
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}
