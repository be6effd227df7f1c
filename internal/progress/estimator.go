package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// DefaultWindow is the number of samples kept for rate smoothing
const DefaultWindow = 40

const (
	gigabyte = 1 << 30
	megabyte = 1 << 20
)

// Sample is a point of cumulative progress
type Sample struct {
	At    time.Time
	Lines int64
	Bytes int64
}

// Totals are the aggregate counters of a run, recomputed from the task list
type Totals struct {
	LinesProcessed int64
	LinesMatched   int64
	LinesErrored   int64
	BytesProcessed int64
	BytesTotal     int64
	FilesDone      int // complete or failed
	FilesFailed    int
	FilesTotal     int
}

// Percent returns processed bytes as a percentage of the total
func (t Totals) Percent() float64 {
	if t.BytesTotal <= 0 {
		return 0
	}
	return float64(t.BytesProcessed) / float64(t.BytesTotal) * 100
}

// Estimate is the rate and ETA view after one update
type Estimate struct {
	LineRate   float64 // lines per second over the progress window
	ByteRate   float64 // bytes per second over the progress window
	Throughput float64 // mean of ByteRate over the speed window
	ETA        time.Duration
	ETAKnown   bool
}

// Estimator keeps two windows: cumulative progress samples and the byte
// rates derived from them
type Estimator struct {
	progress *Window[Sample]
	speed    *Window[float64]
	now      func() time.Time
}

// NewEstimator creates an estimator seeded with the progress at start
func NewEstimator(capacity int, start Sample) *Estimator {
	e := &Estimator{
		progress: NewWindow[Sample](capacity),
		speed:    NewWindow[float64](capacity),
		now:      time.Now,
	}
	if start.At.IsZero() {
		start.At = e.now()
	}
	e.progress.Put(start)
	return e
}

// Update records the current totals and returns the new estimate
func (e *Estimator) Update(t Totals) Estimate {
	now := e.now()
	e.progress.Put(Sample{At: now, Lines: t.LinesProcessed, Bytes: t.BytesProcessed})

	var est Estimate
	first, _ := e.progress.Peek()
	elapsed := now.Sub(first.At).Seconds()
	if elapsed > 0 {
		est.LineRate = float64(t.LinesProcessed-first.Lines) / elapsed
		est.ByteRate = float64(t.BytesProcessed-first.Bytes) / elapsed
	}

	e.speed.Put(est.ByteRate)
	est.Throughput = Mean(e.speed)

	remaining := t.BytesTotal - t.BytesProcessed
	switch {
	case remaining <= 0:
		est.ETAKnown = true
	case est.Throughput > 0:
		est.ETA = time.Duration(float64(remaining) / est.Throughput * float64(time.Second))
		est.ETAKnown = true
	}

	return est
}

// FormatETA renders d as "[Nd ]H:MM:SS"
func FormatETA(d time.Duration) string {
	secs := int64(d / time.Second)
	minutes := secs / 60
	hours := minutes / 60
	days := hours / 24

	prefix := ""
	if days > 0 {
		prefix = fmt.Sprintf("%dd ", days)
	}
	return fmt.Sprintf("%s%d:%02d:%02d", prefix, hours-days*24, minutes-hours*60, secs-minutes*60)
}

// Line renders the progress log line
func Line(t Totals, est Estimate) string {
	eta := "unknown"
	if est.ETAKnown {
		eta = FormatETA(est.ETA)
	}

	return fmt.Sprintf("%s lines at %s/s, %s errored, %s matched : %.2f gb at %s mb/s, %.0f%% : %d(%d)/%d files : %s remaining",
		humanize.Comma(t.LinesProcessed),
		humanize.Comma(int64(est.LineRate)),
		humanize.Comma(t.LinesErrored),
		humanize.Comma(t.LinesMatched),
		float64(t.BytesProcessed)/gigabyte,
		humanize.Comma(int64(est.ByteRate/megabyte)),
		t.Percent(),
		t.FilesDone, t.FilesFailed, t.FilesTotal,
		eta,
	)
}

// Summary renders the startup line describing already processed work
func Summary(t Totals) string {
	return fmt.Sprintf("Processed %d of %d files with %s of %s",
		t.FilesDone, t.FilesTotal,
		humanize.IBytes(uint64(max(t.BytesProcessed, 0))),
		humanize.IBytes(uint64(max(t.BytesTotal, 0))),
	)
}
