// Package sensor watches free space under the embedded store and the Go
// heap, and raises an alert once per excursion above the threshold.
package sensor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"

	"linedesk/pkg/logger"
)

var usageGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "linedesk_sensor_used_percent",
	Help: "Last observed usage percentage per resource.",
}, []string{"resource"})

// Recorder receives alert transitions.
type Recorder interface {
	Warn(ctx context.Context, msg string, details any)
	Info(ctx context.Context, msg string, details any)
}

// MonitorConfig holds thresholds in percent.
type MonitorConfig struct {
	// Path is the directory whose filesystem is checked; empty skips disk.
	Path           string
	PollInterval   time.Duration
	DiskHighPct    int
	DiskLowPct     int
	MemHighPct     int
	RecoveryWindow time.Duration
}

type Sensor struct {
	config   MonitorConfig
	rec      Recorder
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	done     chan struct{}

	mu            sync.Mutex
	diskAlert     bool
	memAlert      bool
	lastDiskAlert time.Time
	lastMemAlert  time.Time

	now      func() time.Time
	diskUsed func(path string) (float64, error)
	memUsed  func() float64
}

func NewSensor(config MonitorConfig, rec Recorder) *Sensor {
	return &Sensor{
		config:   config,
		rec:      rec,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		diskUsed: statfsUsedPct,
		memUsed:  heapUsedPct,
	}
}

func (s *Sensor) Start() {
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Stop ends the poll loop and waits for it to exit.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.started {
			<-s.done
		}
	})
}

func (s *Sensor) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sensor) check() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()

	if s.config.Path != "" {
		usedPct, err := s.diskUsed(s.config.Path)
		if err != nil {
			logger.Warn("sensor_disk_stat_failed", "path", s.config.Path, "error", err)
		} else {
			usageGauge.WithLabelValues("disk").Set(usedPct)
			if usedPct > float64(s.config.DiskHighPct) {
				if !s.diskAlert {
					s.rec.Warn(ctx, "Disk usage high", fmt.Sprintf("%.2f%% used under %s (threshold %d%%)", usedPct, s.config.Path, s.config.DiskHighPct))
					s.diskAlert = true
					s.lastDiskAlert = now
				}
			} else if usedPct < float64(s.config.DiskLowPct) && s.diskAlert {
				if now.Sub(s.lastDiskAlert) >= s.config.RecoveryWindow {
					s.rec.Info(ctx, "Disk usage recovered", fmt.Sprintf("%.2f%% used under %s", usedPct, s.config.Path))
					s.diskAlert = false
				}
			}
		}
	}

	memPct := s.memUsed()
	usageGauge.WithLabelValues("heap").Set(memPct)
	if memPct > float64(s.config.MemHighPct) {
		if !s.memAlert {
			s.rec.Warn(ctx, "Memory usage high", fmt.Sprintf("%.2f%% of heap in use (threshold %d%%)", memPct, s.config.MemHighPct))
			s.memAlert = true
			s.lastMemAlert = now
		}
	} else if s.memAlert && now.Sub(s.lastMemAlert) >= s.config.RecoveryWindow {
		s.rec.Info(ctx, "Memory usage recovered", fmt.Sprintf("%.2f%% of heap in use", memPct))
		s.memAlert = false
	}
}

func statfsUsedPct(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	available := stat.Bavail * uint64(stat.Bsize)
	return float64(total-available) / float64(total) * 100, nil
}

func heapUsedPct() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapSys == 0 {
		return 0
	}
	return float64(m.HeapInuse) / float64(m.HeapSys) * 100
}
