package sensor

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	warns []string
	infos []string
}

func (r *recorder) Warn(_ context.Context, msg string, _ any) {
	r.mu.Lock()
	r.warns = append(r.warns, msg)
	r.mu.Unlock()
}

func (r *recorder) Info(_ context.Context, msg string, _ any) {
	r.mu.Lock()
	r.infos = append(r.infos, msg)
	r.mu.Unlock()
}

func TestDiskAlertOncePerExcursion(t *testing.T) {
	rec := &recorder{}
	s := NewSensor(MonitorConfig{Path: "/data", DiskHighPct: 90, DiskLowPct: 80, MemHighPct: 100, RecoveryWindow: time.Minute}, rec)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	used := 95.0
	s.diskUsed = func(string) (float64, error) { return used, nil }
	s.memUsed = func() float64 { return 10 }

	s.check()
	s.check()
	if len(rec.warns) != 1 || rec.warns[0] != "Disk usage high" {
		t.Fatalf("expected a single disk warning, got %v", rec.warns)
	}

	used = 50
	clock = clock.Add(10 * time.Second)
	s.check()
	if len(rec.infos) != 0 {
		t.Fatalf("recovery must wait for the window, got %v", rec.infos)
	}

	clock = clock.Add(2 * time.Minute)
	s.check()
	if len(rec.infos) != 1 || rec.infos[0] != "Disk usage recovered" {
		t.Fatalf("expected recovery notice, got %v", rec.infos)
	}

	used = 96
	s.check()
	if len(rec.warns) != 2 {
		t.Fatalf("new excursion should alert again, got %v", rec.warns)
	}
}

func TestDiskSkippedWithoutPath(t *testing.T) {
	rec := &recorder{}
	s := NewSensor(MonitorConfig{DiskHighPct: 1, MemHighPct: 100}, rec)
	s.diskUsed = func(string) (float64, error) {
		t.Fatalf("disk must not be checked without a path")
		return 0, nil
	}
	s.memUsed = func() float64 { return 5 }
	s.check()
	if len(rec.warns) != 0 {
		t.Fatalf("unexpected warnings %v", rec.warns)
	}
}

func TestMemoryAlert(t *testing.T) {
	rec := &recorder{}
	s := NewSensor(MonitorConfig{MemHighPct: 50}, rec)
	s.memUsed = func() float64 { return 75 }
	s.check()
	if len(rec.warns) != 1 || rec.warns[0] != "Memory usage high" {
		t.Fatalf("expected memory warning, got %v", rec.warns)
	}
}

func TestStatfsOnTempDir(t *testing.T) {
	pct, err := statfsUsedPct(t.TempDir())
	if err != nil {
		t.Fatalf("statfs: %v", err)
	}
	if pct < 0 || pct > 100 {
		t.Fatalf("percentage out of range: %f", pct)
	}
}

func TestStartStop(t *testing.T) {
	s := NewSensor(MonitorConfig{PollInterval: time.Millisecond, MemHighPct: 100}, &recorder{})
	s.memUsed = func() float64 { return 1 }
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	s.Stop()
}
