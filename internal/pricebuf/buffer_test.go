package pricebuf

import (
	"testing"
	"time"

	"signalwatch/internal/model"
)

var base = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

func point(sec int, price float64) model.PricePoint {
	return model.PricePoint{
		Symbol: "TEST",
		TS:     base.Add(time.Duration(sec) * time.Second),
		Price:  price,
	}
}

func TestBuffer_AppendAndSnapshot(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		if !b.Append(point(i, float64(100+i))) {
			t.Fatalf("append %d rejected", i)
		}
	}

	snap := b.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("snapshot length = %d, want 5", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if !snap[i].TS.After(snap[i-1].TS) {
			t.Errorf("snapshot not chronological at %d", i)
		}
	}
	if snap[0].Price != 100 || snap[4].Price != 104 {
		t.Errorf("unexpected snapshot boundary values: %v ... %v", snap[0].Price, snap[4].Price)
	}
}

func TestBuffer_RejectsNonIncreasingTimestamps(t *testing.T) {
	b := New(10)
	b.Append(point(5, 100))

	if b.Append(point(5, 101)) {
		t.Error("duplicate timestamp accepted")
	}
	if b.Append(point(3, 102)) {
		t.Error("older timestamp accepted")
	}
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (rejected points must not be stored)", b.Len())
	}
	if !b.Append(point(6, 103)) {
		t.Error("newer timestamp rejected")
	}
}

func TestBuffer_EvictsOldestPastCapacity(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Append(point(i, float64(100+i)))
	}

	if b.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", b.Len())
	}
	snap := b.Snapshot()
	// Oldest two evicted; buffer holds points 2, 3, 4.
	want := []float64{102, 103, 104}
	for i, w := range want {
		if snap[i].Price != w {
			t.Errorf("snapshot[%d].Price = %v, want %v", i, snap[i].Price, w)
		}
	}
}

func TestBuffer_Last(t *testing.T) {
	b := New(3)
	if _, ok := b.Last(); ok {
		t.Error("Last() on empty buffer should report false")
	}
	b.Append(point(0, 100))
	b.Append(point(1, 101))
	last, ok := b.Last()
	if !ok || last.Price != 101 {
		t.Errorf("Last() = %v, %v; want price 101", last, ok)
	}
}

func TestBuffer_SnapshotIsCopy(t *testing.T) {
	b := New(3)
	b.Append(point(0, 100))
	snap := b.Snapshot()
	snap[0].Price = 999

	again := b.Snapshot()
	if again[0].Price != 100 {
		t.Error("mutating a snapshot leaked into the buffer")
	}
}

func TestBuffer_MinimumCapacity(t *testing.T) {
	b := New(0)
	if b.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", b.Cap())
	}
	b.Append(point(0, 100))
	b.Append(point(1, 101))
	last, _ := b.Last()
	if last.Price != 101 || b.Len() != 1 {
		t.Errorf("single-slot buffer should hold only the newest point")
	}
}
