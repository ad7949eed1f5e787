package mqtt

import (
	"sync"
	"testing"
	"time"
)

func TestDailyTokens_Record(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	dt.OnTokens(100, 200)
	dt.OnTokens(50, 75)

	input, output, requests := dt.Snapshot()
	if input != 150 || output != 275 || requests != 2 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (150, 275, 2)", input, output, requests)
	}
}

func TestDailyTokens_Concurrent(t *testing.T) {
	dt := NewDailyTokens(time.UTC)
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt.OnTokens(10, 20)
		}()
	}
	wg.Wait()

	input, output, requests := dt.Snapshot()
	if input != 1000 || output != 2000 || requests != 100 {
		t.Errorf("Snapshot() = (%d, %d, %d), want (1000, 2000, 100)", input, output, requests)
	}
}

func TestDailyTokens_MidnightReset(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	dt := NewDailyTokens(time.UTC)
	dt.nowFunc = func() time.Time { return now }
	dt.day = dt.today()

	dt.OnTokens(500, 600)
	now = now.Add(2 * time.Minute)

	if input, output, requests := dt.Snapshot(); input != 0 || output != 0 || requests != 0 {
		t.Errorf("Snapshot() after midnight = (%d, %d, %d), want zeros", input, output, requests)
	}
}

func TestDailyTokens_NilLocation(t *testing.T) {
	dt := NewDailyTokens(nil)
	if dt.loc != time.Local {
		t.Error("nil location should default to time.Local")
	}
	dt.OnTokens(1, 1)
	if input, _, _ := dt.Snapshot(); input != 1 {
		t.Errorf("input = %d, want 1", input)
	}
}
