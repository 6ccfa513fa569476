package queue

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/extractd/extractd/internal/extractor"
	"github.com/extractd/extractd/internal/job"
	"github.com/extractd/extractd/internal/results"
)

// Task is one unit of extraction work: a created job and its staged input.
type Task struct {
	JobID     string
	InputPath string
}

// Queue manages the bounded worker pool that runs extractions off the
// request path. Submission only enqueues; when the buffer is full Enqueue
// blocks (backpressure) rather than shedding work.
type Queue struct {
	tasks    chan Task
	store    job.Store
	registry *extractor.Registry
	results  *results.Materializer
	workers  int
	wg       sync.WaitGroup
}

// New creates a Queue with the given concurrency and buffer size.
func New(store job.Store, registry *extractor.Registry, m *results.Materializer, workers, queueSize int) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		tasks:    make(chan Task, queueSize),
		store:    store,
		registry: registry,
		results:  m,
		workers:  workers,
	}
}

// Enqueue hands a job to the pool. It returns once the task is buffered;
// ctx lets a caller abandon the wait when the queue is saturated.
func (q *Queue) Enqueue(ctx context.Context, jobID, inputPath string) error {
	select {
	case q.tasks <- Task{JobID: jobID, InputPath: inputPath}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker goroutines. They stop picking up new tasks when
// ctx is cancelled; a running extraction is never interrupted mid-flight.
func (q *Queue) Start(ctx context.Context) {
	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-q.tasks:
					q.process(task)
				}
			}
		}()
	}
}

// Wait blocks until all workers have returned. Call after cancelling the
// Start context to drain in-flight jobs at shutdown.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// process runs the full per-job pipeline. Extraction faults of any kind end
// as a FAILED job record; nothing propagates out of the worker loop.
func (q *Queue) process(task Task) {
	// Deliberately not the Start context: a worker that already picked up
	// a task finishes it even during shutdown.
	ctx := context.Background()
	start := time.Now()

	defer func() {
		// The job record is the durable artifact from here on; the staged
		// upload is always discarded, success or failure.
		if err := os.Remove(task.InputPath); err != nil && !os.IsNotExist(err) {
			log.Printf("job %s: remove uploaded file %s: %v", task.JobID, task.InputPath, err)
		}
	}()

	if err := q.store.MarkProcessing(ctx, task.JobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			log.Printf("job %s: not claimable (deleted or already picked up)", task.JobID)
		} else {
			// Store fault: the job stays pending and is reclaimed by the
			// cleanup sweeper once it ages out.
			log.Printf("job %s: mark processing: %v", task.JobID, err)
		}
		return
	}

	ext := q.registry.Resolve(task.InputPath)
	if ext == nil {
		q.fail(ctx, task.JobID, "unsupported file type: no extractor can handle "+task.InputPath)
		return
	}

	outputDir := q.results.JobDir(task.JobID)
	res := safeExtract(ctx, ext, task.InputPath, outputDir)
	if !res.Success {
		q.fail(ctx, task.JobID, res.Err)
		return
	}

	jobRec, err := q.store.Get(ctx, task.JobID)
	if err != nil {
		log.Printf("job %s: reload for completion: %v", task.JobID, err)
		return
	}
	if err := q.results.WriteArtifacts(task.JobID, jobRec.Filename, ext.Name(), res); err != nil {
		q.fail(ctx, task.JobID, "write extraction outputs: "+err.Error())
		return
	}

	metrics := job.Metrics{
		TextLength:        len(res.Text),
		ImagesCount:       len(res.Images),
		ExtractorUsed:     ext.Name(),
		ProcessingSeconds: time.Since(start).Seconds(),
	}
	if err := q.store.Complete(ctx, task.JobID, metrics, outputDir); err != nil {
		// Logged and left for cleanup: the job sits in processing.
		log.Printf("job %s: complete: %v", task.JobID, err)
		return
	}
	log.Printf("job %s: completed with %s (%d chars, %d images)",
		task.JobID, ext.Name(), metrics.TextLength, metrics.ImagesCount)
}

// fail records the terminal failure and drops any partial output so no
// half-written directory is ever referenced as valid.
func (q *Queue) fail(ctx context.Context, jobID, msg string) {
	log.Printf("job %s: failed: %s", jobID, msg)
	if err := q.store.Fail(ctx, jobID, msg); err != nil {
		log.Printf("job %s: record failure: %v", jobID, err)
	}
	if err := q.results.Remove(jobID); err != nil {
		log.Printf("job %s: remove partial output: %v", jobID, err)
	}
}

// safeExtract invokes the capability with panic containment: a panicking
// extractor becomes a failure result instead of taking down the pool.
func safeExtract(ctx context.Context, ext extractor.Extractor, path, outputDir string) (res *extractor.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = extractor.Failure("extractor %s panicked: %v", ext.Name(), r)
		}
	}()
	res = ext.Extract(ctx, path, outputDir)
	if res == nil {
		res = extractor.Failure("extractor %s returned no result", ext.Name())
	}
	if !res.Success && res.Err == "" {
		res.Err = "extraction failed"
	}
	return res
}
