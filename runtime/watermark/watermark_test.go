package watermark

import "testing"

func TestCombinedIsMinAcrossOrigins(t *testing.T) {
	u := NewUpdater()
	if err := u.Advance(1, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := u.Advance(2, 1, 50); err != nil {
		t.Fatal(err)
	}
	ts, ok := u.Combined()
	if !ok || ts != 50 {
		t.Fatalf("expected combined watermark 50, got %d ok=%v", ts, ok)
	}
}

func TestCombinedWaitsForEveryRegisteredOrigin(t *testing.T) {
	u := NewUpdater()
	u.RegisterOrigin(1)
	u.RegisterOrigin(2)
	if err := u.Advance(1, 1, 100); err != nil {
		t.Fatal(err)
	}
	if _, ok := u.Combined(); ok {
		t.Fatal("expected Combined to report not-ok until origin 2 reports")
	}
}

func TestAdvanceRejectsOutOfOrderBarrier(t *testing.T) {
	u := NewUpdater()
	if err := u.Advance(1, 5, 100); err != nil {
		t.Fatal(err)
	}
	if err := u.Advance(1, 5, 200); err == nil {
		t.Fatal("expected duplicate barrierSeq to be rejected")
	}
	if err := u.Advance(1, 3, 300); err == nil {
		t.Fatal("expected out-of-order barrierSeq to be rejected")
	}
}

func TestProcessorMonotonic(t *testing.T) {
	var p Processor
	p.Advance(10)
	p.Advance(5)
	if p.Current() != 10 {
		t.Fatalf("expected watermark to stay at 10, got %d", p.Current())
	}
	p.Advance(20)
	if p.Current() != 20 {
		t.Fatalf("expected watermark to advance to 20, got %d", p.Current())
	}
}
