package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type componentStat struct {
	warns  int64
	errors int64
}

var (
	components  sync.Map // map[string]*componentStat
	counters    sync.Map // map[string]*int64
	reportStart = time.Now()
)

func statFor(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&statFor(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&statFor(component).errors, 1)
}

// IncrementCounter bumps a named counter that is included in the runtime report.
func IncrementCounter(name string, delta int64) {
	v, _ := counters.LoadOrStore(name, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

// CounterValue returns the current value of a report counter.
func CounterValue(name string) int64 {
	v, ok := counters.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v.(*int64))
}

// StartReport begins periodic logging of runtime and component statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func reportFields() Fields {
	componentData := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		componentData[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	counterData := map[string]int64{}
	counters.Range(func(k, v any) bool {
		counterData[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})

	return Fields{
		"goroutines": runtime.NumGoroutine(),
		"uptime_s":   int64(time.Since(reportStart).Seconds()),
		"components": componentData,
		"counters":   counterData,
	}
}

func logReport(log *Log) {
	fields := reportFields()

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		fields["cpu_percent"] = cpuPercent[0]
	}
	if memStats, err := mem.VirtualMemory(); err == nil {
		fields["memory_mb"] = int64(memStats.Used) / 1024 / 1024
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
