// Package pool distributes archives over a fixed set of workers and keeps
// the authoritative task list of a run.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/checkpoint"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/domain"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/observability"
	"github.com/itsErik-13/TFG-Etiquetado-Inteligente/internal/progress"
	"github.com/rs/zerolog/log"
)

// Processor handles one file. It sends snapshots of the task on updates and
// returns the final record; it must not fail, only record the failure.
type Processor interface {
	ProcessFile(ctx context.Context, task domain.TaskRecord, updates chan<- domain.TaskRecord) domain.TaskRecord
}

// Options configures a run
type Options struct {
	Processes   int
	Fingerprint string
	RunType     string
	Discover    DiscoverOptions

	// OnWorkerError is called for failures that escape the per-file error
	// path, such as a panic in a worker. Defaults to logging.
	OnWorkerError func(task domain.TaskRecord, err error)
}

// Result summarizes a finished run
type Result struct {
	Tasks   []domain.TaskRecord
	Totals  progress.Totals
	Elapsed time.Duration
}

// Coordinator owns the task list. Workers only ever see copies of records;
// their snapshots come back over a single channel drained by Run.
type Coordinator struct {
	store   *checkpoint.Store
	proc    Processor
	opts    Options
	metrics *observability.Metrics

	tasks    []domain.TaskRecord
	index    map[string]int
	prefixes []string
}

// NewCoordinator creates a coordinator. metrics may be nil.
func NewCoordinator(store *checkpoint.Store, proc Processor, opts Options, metrics *observability.Metrics) *Coordinator {
	if opts.Processes < 1 {
		opts.Processes = 1
	}
	if opts.OnWorkerError == nil {
		opts.OnWorkerError = func(task domain.TaskRecord, err error) {
			log.Error().Err(err).Str("file", task.InputPath).Msg("Worker error")
		}
	}

	return &Coordinator{
		store:   store,
		proc:    proc,
		opts:    opts,
		metrics: metrics,
	}
}

// Run loads or discovers the task list, processes every pending file and
// returns once all workers are done. A checkpoint written with other
// arguments aborts the run before any file is touched.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	if err := c.load(); err != nil {
		return nil, err
	}

	log.Info().
		Int("files", len(c.tasks)).
		Str("start_date", orNone(c.opts.Discover.StartDate)).
		Str("end_date", orNone(c.opts.Discover.EndDate)).
		Msg("Filtered files based on the provided date range")

	startTime := time.Now()

	if len(c.tasks) == 0 {
		log.Info().Msg("No files to process, exiting")
		return c.result(computeTotals(c.tasks), startTime), nil
	}

	// unfinished files are processed again from the start
	pending := make([]domain.TaskRecord, 0, len(c.tasks))
	for i := range c.tasks {
		if !c.tasks[i].Terminal() {
			c.tasks[i].Reset()
			pending = append(pending, c.tasks[i])
		}
	}
	bySizeDesc(pending)

	totals := computeTotals(c.tasks)
	log.Info().Msg(progress.Summary(totals))

	if len(pending) > 0 {
		for _, t := range pending {
			log.Info().Str("file", t.InputPath).Int64("file_size", t.FileSize).Msg("Processing file")
		}
		totals = c.dispatch(ctx, pending, totals, startTime)
	}

	log.Info().
		Int64("lines_matched", totals.LinesMatched).
		Int64("lines_processed", totals.LinesProcessed).
		Msgf("Total time: %d seconds : %d matched/%d total lines",
			int64(time.Since(startTime).Seconds()), totals.LinesMatched, totals.LinesProcessed)

	return c.result(totals, startTime), nil
}

// load resumes from the checkpoint or discovers the files of a first run
func (c *Coordinator) load() error {
	state, err := c.store.Load()
	if err != nil {
		return err
	}

	if state != nil {
		if err := state.Check(c.opts.Fingerprint, c.opts.RunType); err != nil {
			return err
		}
		log.Info().
			Str("working", c.opts.Discover.WorkingDir).
			Msg("Existing input file was read, if this is not correct you should delete the working folder and run again")
		c.tasks = state.Tasks
		c.prefixes = state.CompletedPrefixes
	} else {
		tasks, err := Discover(c.opts.Discover)
		if err != nil {
			return err
		}
		c.tasks = tasks
		if err := c.save(); err != nil {
			return err
		}
	}

	c.index = make(map[string]int, len(c.tasks))
	for i, t := range c.tasks {
		c.index[t.InputPath] = i
	}
	return nil
}

// dispatch runs the worker pool and drains the update channel until every
// worker has returned
func (c *Coordinator) dispatch(ctx context.Context, pending []domain.TaskRecord, totals progress.Totals, startTime time.Time) progress.Totals {
	workers := min(c.opts.Processes, len(pending))
	log.Info().
		Int("files", len(pending)).
		Int("processes", workers).
		Msg("Starting workers")

	jobs := make(chan domain.TaskRecord, len(pending))
	for _, t := range pending {
		jobs <- t
	}
	close(jobs)

	updates := make(chan domain.TaskRecord, workers*4)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for task := range jobs {
				if ctx.Err() != nil {
					return
				}
				log.Debug().
					Str("file", task.InputPath).
					Int("worker", workerID).
					Msg("Worker processing file")
				c.runTask(ctx, task, updates)
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(updates)
	}()

	estimator := progress.NewEstimator(progress.DefaultWindow, progress.Sample{
		At:    startTime,
		Lines: totals.LinesProcessed,
		Bytes: totals.BytesProcessed,
	})

	for update := range updates {
		i, ok := c.index[update.InputPath]
		if !ok {
			log.Warn().Str("file", update.InputPath).Msg("Update for unknown file")
			continue
		}
		c.tasks[i] = update

		if update.Failed() {
			log.Warn().
				Str("file", update.InputPath).
				Int64("file_size", update.FileSize).
				Str("error", update.ErrorMessage).
				Msg("File failed")
		}

		if update.LinesProcessed == 0 && !update.Terminal() {
			log.Debug().Str("file", update.InputPath).Int64("file_size", update.FileSize).Msg("Starting file")
			continue
		}

		totals = computeTotals(c.tasks)

		if update.Terminal() {
			if err := c.save(); err != nil {
				log.Error().Err(err).Msg("Failed to save checkpoint")
			}
			log.Debug().Str("file", update.InputPath).Int64("file_size", update.FileSize).Msg("Finished file")
		}

		est := estimator.Update(totals)
		c.publish(totals, est)

		log.Info().
			Int64("lines", totals.LinesProcessed).
			Int64("matched", totals.LinesMatched).
			Int64("errored", totals.LinesErrored).
			Float64("percent", totals.Percent()).
			Msg(progress.Line(totals, est))
	}

	return computeTotals(c.tasks)
}

// runTask processes one file, turning a worker panic into a failed record
func (c *Coordinator) runTask(ctx context.Context, task domain.TaskRecord, updates chan<- domain.TaskRecord) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker panic: %v", r)
			c.opts.OnWorkerError(task, err)
			task.MarkFailed(err)
			updates <- task
		}
	}()

	c.proc.ProcessFile(ctx, task, updates)
}

func (c *Coordinator) save() error {
	return c.store.Save(&checkpoint.State{
		Fingerprint:       c.opts.Fingerprint,
		RunType:           c.opts.RunType,
		CompletedPrefixes: c.prefixes,
		Tasks:             c.tasks,
	})
}

func (c *Coordinator) publish(t progress.Totals, est progress.Estimate) {
	m := c.metrics
	if m == nil {
		return
	}
	m.LinesProcessed.Set(float64(t.LinesProcessed))
	m.LinesMatched.Set(float64(t.LinesMatched))
	m.LinesErrored.Set(float64(t.LinesErrored))
	m.BytesProcessed.Set(float64(t.BytesProcessed))
	m.BytesTotal.Set(float64(t.BytesTotal))
	m.FilesDone.Set(float64(t.FilesDone))
	m.FilesFailed.Set(float64(t.FilesFailed))
	m.Throughput.Set(est.Throughput)
	if est.ETAKnown {
		m.ETASeconds.Set(est.ETA.Seconds())
	} else {
		m.ETASeconds.Set(-1)
	}
}

func (c *Coordinator) result(totals progress.Totals, startTime time.Time) *Result {
	return &Result{
		Tasks:   append([]domain.TaskRecord(nil), c.tasks...),
		Totals:  totals,
		Elapsed: time.Since(startTime),
	}
}

// computeTotals aggregates the whole task list
func computeTotals(tasks []domain.TaskRecord) progress.Totals {
	t := progress.Totals{FilesTotal: len(tasks)}
	for _, task := range tasks {
		t.LinesProcessed += task.LinesProcessed
		t.LinesMatched += task.LinesMatched
		t.LinesErrored += task.ErrorLines
		t.BytesProcessed += task.BytesProcessed
		t.BytesTotal += task.FileSize
		if task.Terminal() {
			t.FilesDone++
		}
		if task.Failed() {
			t.FilesFailed++
		}
	}
	return t
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
