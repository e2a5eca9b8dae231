// Package progress reports per-file pipeline progress, either as interactive
// multi-progress bars or as throttled log lines for non-TTY runs.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Tracker tracks the stages of a single MRF file: download, parse, flush.
type Tracker interface {
	SetStage(stage string)
	SetProgress(current, total int64)
	SetCounter(name string, value int64)
	Done()
}

// Manager creates trackers for individual files.
type Manager interface {
	NewTracker(index, total int, filename string) Tracker
	Wait()
	SetOverallStats(filesComplete int, totalRecords int64)
}

// MPBManager implements Manager using the mpb multi-progress-bar library.
type MPBManager struct {
	container *mpb.Progress
}

// NewMPBManager creates a new mpb-based progress manager.
func NewMPBManager() *MPBManager {
	return &MPBManager{container: mpb.New(mpb.WithWidth(60))}
}

// NewTracker creates a progress bar for one file.
func (m *MPBManager) NewTracker(index, total int, filename string) Tracker {
	stageVal := &atomic.Value{}
	stageVal.Store("")
	bar := m.container.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("[%d/%d] %s ", index+1, total, filename), decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				return stageVal.Load().(string)
			}),
		),
	)
	return &mpbTracker{bar: bar, stagePtr: stageVal}
}

// Wait waits for all progress bars to finish.
func (m *MPBManager) Wait() {
	m.container.Wait()
}

func (m *MPBManager) SetOverallStats(filesComplete int, totalRecords int64) {}

type mpbTracker struct {
	bar      *mpb.Bar
	stagePtr *atomic.Value
}

func (t *mpbTracker) SetStage(stage string) {
	t.stagePtr.Store(stage)
	t.bar.SetCurrent(0) // reset progress for new stage
}

func (t *mpbTracker) SetProgress(current, total int64) {
	if total > 0 {
		pct := int64(float64(current) / float64(total) * 100)
		t.bar.SetTotal(100, false)
		t.bar.SetCurrent(pct)
	}
}

func (t *mpbTracker) SetCounter(name string, value int64) {}

func (t *mpbTracker) Done() {
	t.bar.SetTotal(100, false)
	t.bar.SetCurrent(100)
	t.bar.Abort(false) // complete without removing
}

// NoopManager is a silent progress manager for tests and embedding.
type NoopManager struct {
	FilesComplete int32
	TotalRecords  int64
}

func (m *NoopManager) NewTracker(index, total int, filename string) Tracker {
	return noopTracker{}
}

func (m *NoopManager) Wait() {}

func (m *NoopManager) SetOverallStats(filesComplete int, totalRecords int64) {
	atomic.StoreInt32(&m.FilesComplete, int32(filesComplete))
	atomic.StoreInt64(&m.TotalRecords, totalRecords)
}

type noopTracker struct{}

func (noopTracker) SetStage(stage string)               {}
func (noopTracker) SetProgress(current, total int64)    {}
func (noopTracker) SetCounter(name string, value int64) {}
func (noopTracker) Done()                               {}
