package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

const defaultHungCheckInterval = time.Second

// Uploader submits the chunks of a job with bounded concurrency, rate limiting, retries and
// hung detection. An Uploader runs one job at a time.
type Uploader struct {
	config    Config
	submitter Submitter
	store     ResumeStore
	limiter   *RateLimiter
	policy    RetryPolicy
	logger    log.Logger
	stats     *Stats

	hungCheckInterval time.Duration
}

// New creates a new Uploader. A nil store disables resume bookkeeping.
func New(config Config, submitter Submitter, store ResumeStore, logger log.Logger) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if submitter == nil {
		return nil, newConfigurationError("submitter", "no submitter configured")
	}
	if store == nil {
		store = discardStore{}
	}
	if logger == nil {
		logger = log.NewLogger()
	}

	return &Uploader{
		config:    config,
		submitter: submitter,
		store:     store,
		limiter:   NewRateLimiter(config.TargetRate, int(config.ChunkSize)),
		policy:    config.retryPolicy(),
		logger:    logger,
		stats:     NewStats(),

		hungCheckInterval: defaultHungCheckInterval,
	}, nil
}

// Upload splits the job's payload and submits every chunk that is not yet accepted.
// The returned result is non-nil whenever the run started, including when an error is returned:
// ErrChunksFailed (drain with failures), ErrAborted (fail-fast), a cancellation error, or a
// fatal error (unreadable payload, resume store failure).
func (u *Uploader) Upload(ctx context.Context, job Job) (*UploadResult, error) {
	if job.Provider == nil {
		return nil, newConfigurationError("provider", "no payload provider")
	}

	chunks, err := SplitRange(job.Offset, job.Provider.Size(), u.config.ChunkSize)
	if err != nil {
		return nil, err
	}

	skipped, err := u.skippedChunks(ctx, job, chunks)
	if err != nil {
		return nil, err
	}

	return newRun(u, job, chunks, skipped).execute(ctx)
}

func (u *Uploader) skippedChunks(ctx context.Context, job Job, chunks []Chunk) (map[uint32]bool, error) {
	count := int64(len(chunks))
	skipped := map[uint32]bool{}

	if len(job.Only) > 0 {
		only := map[uint32]bool{}
		for _, index := range job.Only {
			if int64(index) >= count {
				return nil, newConfigurationError("retry_chunks", "chunk index %d is out of range [0, %d)", index, count)
			}
			only[index] = true
		}
		for _, c := range chunks {
			if !only[c.Index] {
				skipped[c.Index] = true
			}
		}
	}

	for i := uint32(0); i < job.ChunkOffset && int64(i) < count; i++ {
		skipped[i] = true
	}

	if job.Key == "" {
		return skipped, nil
	}

	if u.config.AutoResume {
		completed, err := u.store.Load(ctx, job.Key)
		if err != nil {
			return nil, fmt.Errorf("load resume state: %w", err)
		}
		for _, index := range completed {
			if int64(index) >= count {
				u.logger.Warnf("Ignoring recorded chunk %d: the payload has %d chunk(s)", index, count)
				continue
			}
			skipped[index] = true
		}
		if len(completed) > 0 {
			u.logger.Infof("Resuming upload: %d chunk(s) already recorded as uploaded", len(completed))
		}
	}

	if u.config.VerifyRemote {
		lister, ok := u.submitter.(RemoteLister)
		if !ok {
			u.logger.Warnf("Remote verification is not supported by this transport, relying on the local resume record")
			return skipped, nil
		}

		remote, err := lister.ListChunks(ctx)
		if err != nil {
			u.logger.Warnf("Failed to list remote chunks, relying on the local resume record: %s", err)
			return skipped, nil
		}

		confirmed := 0
		for _, index := range remote {
			if int64(index) >= count || skipped[index] {
				continue
			}
			if err := u.store.MarkComplete(ctx, job.Key, index); err != nil {
				return nil, fmt.Errorf("record remote chunk %d: %w", index, err)
			}
			skipped[index] = true
			confirmed++
		}
		u.logger.Infof("Remote side holds %d chunk(s), %d of them were missing from the resume record", len(remote), confirmed)
	}

	return skipped, nil
}

type attempt struct {
	chunk  Chunk
	number int
}

type attemptResult struct {
	attempt
	took      time.Duration
	err       error
	cancelled bool
}

// run is the coordinator state of a single Upload call. Only the coordinating goroutine
// touches it.
type run struct {
	u        *Uploader
	job      Job
	chunks   []Chunk
	outcomes []ChunkOutcome
	pending  []uint32
	tracker  *Tracker
	result   *UploadResult
}

func newRun(u *Uploader, job Job, chunks []Chunk, skipped map[uint32]bool) *run {
	r := &run{
		u:        u,
		job:      job,
		chunks:   chunks,
		outcomes: make([]ChunkOutcome, len(chunks)),
		tracker:  NewTracker(chunks, skipped, u.config.progressWindow()),
		result:   &UploadResult{Total: len(chunks)},
	}
	for _, c := range chunks {
		if skipped[c.Index] {
			r.outcomes[c.Index].State = StateSucceeded
			r.result.Skipped++
			continue
		}
		r.pending = append(r.pending, c.Index)
	}
	return r
}

func (r *run) execute(ctx context.Context) (*UploadResult, error) {
	u := r.u
	start := time.Now()
	u.stats.reset()

	if len(r.pending) == 0 {
		u.logger.Infof("Nothing to upload: all %d chunk(s) are already uploaded", len(r.chunks))
		return r.finish(start, StatusSucceeded, nil)
	}

	workers := u.config.workers()
	if workers > len(r.pending) {
		workers = len(r.pending)
	}
	u.logger.Debugf("Uploading %d of %d chunk(s) with %d worker(s)", len(r.pending), len(r.chunks), workers)

	// In-flight submissions outlive the caller's context and are only cancelled on abort.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	storeCtx := context.WithoutCancel(ctx)

	work := make(chan attempt)
	results := make(chan attemptResult)
	requeue := make(chan uint32)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range work {
				results <- u.submitChunk(runCtx, r.job.Provider, a, len(r.chunks))
			}
		}()
	}

	inFlight, waiting := 0, 0
	admitting := true
	cancelled, aborted := false, false
	done := ctx.Done()
	policy := u.config.failurePolicy()
	var fatal error
	var timers []*time.Timer

	stopAdmitting := func() {
		admitting = false
		cancelRun()
	}

	for inFlight > 0 || (admitting && (len(r.pending) > 0 || waiting > 0)) {
		var (
			sendCh chan<- attempt
			next   attempt
		)
		// Sequential runs keep index order, so nothing is admitted while a retry is pending.
		if admitting && len(r.pending) > 0 && (u.config.Parallel || waiting == 0) {
			index := r.pending[0]
			sendCh = work
			next = attempt{chunk: r.chunks[index], number: r.outcomes[index].Attempts + 1}
		}

		select {
		case sendCh <- next:
			r.pending = r.pending[1:]
			inFlight++
			r.transition(next.chunk.Index, ChunkOutcome{State: StateInFlight, Attempts: next.number})

		case index := <-requeue:
			waiting--
			r.enqueue(index)

		case <-done:
			done = nil
			cancelled = true
			admitting = false
			u.logger.Warnf("Upload cancelled, waiting for %d in-flight chunk(s) to finish", inFlight)

		case res := <-results:
			inFlight--
			index := res.chunk.Index

			var ioErr *IOError
			switch {
			case res.err == nil:
				if r.job.Key != "" {
					if err := u.store.MarkComplete(storeCtx, r.job.Key, index); err != nil && fatal == nil {
						fatal = fmt.Errorf("record chunk %d: %w", index, err)
						u.logger.Errorf("Failed to record uploaded chunk %d, stopping: %s", index, err)
						stopAdmitting()
					}
				}
				r.result.Uploaded++
				r.result.BytesSent += res.chunk.Length
				r.transition(index, ChunkOutcome{State: StateSucceeded, Attempts: res.number})
				u.logger.Debugf("Chunk %d uploaded in %v", index, res.took.Round(time.Millisecond))

			case res.cancelled:
				r.transition(index, ChunkOutcome{State: StatePending, Attempts: res.number, Err: res.err})

			case errors.As(res.err, &ioErr):
				r.fail(index, res.number, res.err, false)
				if fatal == nil {
					fatal = res.err
					u.logger.Errorf("Failed to read chunk %d, stopping: %s", index, res.err)
					stopAdmitting()
				}

			default:
				decision := u.policy.Decide(res.number, res.err)
				switch {
				case decision.Retry && admitting:
					u.logger.Warnf("Chunk %d attempt %d/%d failed, retrying in %s: %s",
						index, res.number, u.policy.MaxAttempts, decision.Delay, res.err)
					r.transition(index, ChunkOutcome{State: StatePending, Attempts: res.number, Err: res.err})
					waiting++
					timers = append(timers, time.AfterFunc(decision.Delay, func() {
						select {
						case requeue <- index:
						case <-stop:
						}
					}))
				case decision.Retry:
					r.transition(index, ChunkOutcome{State: StatePending, Attempts: res.number, Err: res.err})
				default:
					r.fail(index, res.number, res.err, !IsPermanent(res.err))
					u.logger.Errorf("Chunk %d failed after %d attempt(s): %s", index, res.number, res.err)
					if policy == FailFast && !aborted && fatal == nil {
						aborted = true
						u.logger.Errorf("Aborting upload, cancelling %d in-flight chunk(s)", inFlight)
						stopAdmitting()
					}
				}
			}
		}
	}

	close(stop)
	for _, t := range timers {
		t.Stop()
	}
	close(work)
	wg.Wait()

	r.collectUnfinished()

	status := StatusSucceeded
	var err error
	switch {
	case fatal != nil:
		status, err = StatusAborted, fatal
	case aborted:
		f := r.result.Failed[0]
		status = StatusAborted
		err = fmt.Errorf("%w: chunk %d failed after %d attempt(s): %w", ErrAborted, f.Index, f.Attempts, f.Err)
	case cancelled && len(r.result.Unfinished) > 0:
		status = StatusCancelled
		err = fmt.Errorf("upload cancelled with %d chunk(s) unfinished: %w", len(r.result.Unfinished), ctx.Err())
	case len(r.result.Failed) > 0:
		status = StatusFailed
		err = fmt.Errorf("%w: %d of %d chunk(s)", ErrChunksFailed, len(r.result.Failed), len(r.chunks))
	}

	return r.finish(start, status, err)
}

func (r *run) transition(index uint32, outcome ChunkOutcome) {
	r.outcomes[index] = outcome
	snapshot := r.tracker.Record(index, outcome.State)
	if r.u.config.OnProgress != nil {
		r.u.config.OnProgress(snapshot)
	}
}

func (r *run) fail(index uint32, attempts int, err error, exhausted bool) {
	r.transition(index, ChunkOutcome{State: StateFailed, Attempts: attempts, Err: err, Exhausted: exhausted})
	r.result.Failed = append(r.result.Failed, ChunkFailure{Index: index, Attempts: attempts, Err: err})
}

func (r *run) enqueue(index uint32) {
	i := sort.Search(len(r.pending), func(i int) bool { return r.pending[i] >= index })
	r.pending = append(r.pending, 0)
	copy(r.pending[i+1:], r.pending[i:])
	r.pending[i] = index
}

func (r *run) collectUnfinished() {
	for i, o := range r.outcomes {
		if o.State == StatePending || o.State == StateInFlight {
			r.result.Unfinished = append(r.result.Unfinished, uint32(i))
		}
	}
}

func (r *run) finish(start time.Time, status JobStatus, err error) (*UploadResult, error) {
	sort.Slice(r.result.Failed, func(i, j int) bool { return r.result.Failed[i].Index < r.result.Failed[j].Index })
	r.result.Status = status
	r.result.Duration = time.Since(start)
	r.result.AverageChunkDuration = r.u.stats.Average()
	r.result.Outcomes = r.outcomes

	final := r.tracker.Finish(status)
	if r.u.config.OnProgress != nil {
		r.u.config.OnProgress(final)
	}
	return r.result, err
}

func (u *Uploader) submitChunk(ctx context.Context, provider ChunkProvider, a attempt, total int) attemptResult {
	res := attemptResult{attempt: a}
	index := a.chunk.Index

	data, err := provider.ReadRange(a.chunk.Offset, a.chunk.Length)
	if err != nil {
		var ioErr *IOError
		if !errors.As(err, &ioErr) {
			err = &IOError{Offset: a.chunk.Offset, Length: a.chunk.Length, Err: err}
		}
		res.err = err
		return res
	}

	if err := u.limiter.Wait(ctx, len(data)); err != nil {
		res.err = err
		res.cancelled = true
		return res
	}

	u.logger.Debugf("Uploading chunk %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
		index, total, a.number, u.config.MaxRetryPerChunk,
		u.stats.Accepted(), u.stats.Average().Round(time.Millisecond))

	callCtx, cancelCall := u.callContext(ctx)
	defer cancelCall()
	chunkCtx, cancelChunk := context.WithCancel(callCtx)
	defer cancelChunk()

	hung := new(atomic.Bool)
	start := time.Now()

	// No hung detection on the last attempt.
	var detector sync.WaitGroup
	if a.number < u.config.MaxRetryPerChunk && u.config.HungThreshold > 0 {
		detector.Add(1)
		go func() {
			defer detector.Done()
			u.detectHungUpload(chunkCtx, cancelChunk, start, index, hung)
		}()
	}

	err = u.submitter.Submit(chunkCtx, index, data)
	res.took = time.Since(start)
	cancelChunk()
	detector.Wait()
	if err == nil {
		u.stats.Record(res.took)
		return res
	}

	switch {
	case ctx.Err() != nil:
		res.cancelled = true
	case hung.Load():
		err = NewTransientError(fmt.Errorf("chunk %d: %w after %s", index, errHung, res.took.Round(time.Second)))
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		err = NewTransientError(fmt.Errorf("chunk %d timed out after %s: %w", index, u.config.ChunkTimeout, err))
	}
	res.err = err
	return res
}

func (u *Uploader) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.config.ChunkTimeout > 0 {
		return context.WithTimeout(ctx, u.config.ChunkTimeout)
	}
	return context.WithCancel(ctx)
}

func (u *Uploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, start time.Time, index uint32, hung *atomic.Bool) {
	ticker := time.NewTicker(u.hungCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.Accepted() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung chunk upload (chunk %d); canceling request after %s (avg: %s)",
						index, elapsed.Round(time.Second), avg.Round(time.Second))
					hung.Store(true)
					cancel()
					return
				}
			}
		}
	}
}

type discardStore struct{}

func (discardStore) Load(context.Context, string) ([]uint32, error) { return nil, nil }

func (discardStore) MarkComplete(context.Context, string, uint32) error { return nil }

func (discardStore) Reset(context.Context, string) error { return nil }
