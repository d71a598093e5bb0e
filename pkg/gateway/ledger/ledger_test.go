package ledger

import (
	"sync"
	"testing"
	"time"
)

func TestStart_CountsAgainstDailyQuota(t *testing.T) {
	l := New(Policy{MaxSessionsPerDay: 3})

	for i, id := range []string{"a", "b", "c"} {
		ok, reason := l.CanStart()
		if !ok {
			t.Fatalf("session %d denied: %s", i, reason)
		}
		l.Start(id)
		if got := l.Status().Used; got != i+1 {
			t.Fatalf("used=%d want %d", got, i+1)
		}
	}

	ok, reason := l.CanStart()
	if ok {
		t.Fatalf("fourth session should be denied")
	}
	if reason != ReasonDailyLimit {
		t.Fatalf("reason=%q", reason)
	}
	if got := l.Status().Remaining; got != 0 {
		t.Fatalf("remaining=%d", got)
	}
}

func TestEnd_DoesNotReleaseQuota(t *testing.T) {
	l := New(Policy{MaxSessionsPerDay: 1})

	if ok, _ := l.Admit("s1"); !ok {
		t.Fatalf("first admit denied")
	}
	l.End("s1")

	if l.Active("s1") {
		t.Fatalf("s1 should not be active after End")
	}
	if ok, _ := l.CanStart(); ok {
		t.Fatalf("quota slot must stay consumed after End")
	}
	if got := l.Status().Used; got != 1 {
		t.Fatalf("used=%d", got)
	}
}

func TestEnd_Idempotent(t *testing.T) {
	l := New(Policy{MaxSessionsPerDay: 5})
	l.Start("s1")

	l.End("s1")
	l.End("s1")
	l.End("never-started")

	if got := l.Status().Used; got != 1 {
		t.Fatalf("used=%d", got)
	}
}

func TestAdmit_SerializesUnderConcurrency(t *testing.T) {
	const limit = 8
	l := New(Policy{MaxSessionsPerDay: limit})

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if ok, _ := l.Admit(string(rune('a' + n))); ok {
				admitted <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != limit {
		t.Fatalf("admitted=%d want %d", count, limit)
	}
	if got := l.Status().Used; got != limit {
		t.Fatalf("used=%d want %d", got, limit)
	}
}

func TestDailyCounter_ResetsOnDateChange(t *testing.T) {
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return day }
	l := NewWithClock(Policy{MaxSessionsPerDay: 1}, func() time.Time { return now() })

	if ok, _ := l.Admit("s1"); !ok {
		t.Fatalf("admit denied on day one")
	}
	if ok, _ := l.CanStart(); ok {
		t.Fatalf("day one quota should be exhausted")
	}

	day = day.AddDate(0, 0, 1)
	if ok, _ := l.CanStart(); !ok {
		t.Fatalf("new day should reset the counter")
	}
	if got := l.Status().Used; got != 0 {
		t.Fatalf("used=%d on new day", got)
	}
}

func TestStatus_ResetsAtNextMidnight(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	l := NewWithClock(Policy{MaxSessionsPerDay: 5}, func() time.Time { return at })

	got := l.Status().ResetsAt
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("resets_at=%v want %v", got, want)
	}
}
