package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hgu-gateway/internal/logger"
	"hgu-gateway/internal/metrics"
	"hgu-gateway/internal/model"
	"hgu-gateway/internal/utils"
)

const (
	workerWait   = 100 * time.Millisecond
	staleAfter   = 60 * time.Second
	highWaterPct = 0.8
)

var (
	ErrNotRunning    = errors.New("pipeline not running")
	ErrInvalidSample = errors.New("invalid sample")
	errSinkPanic     = errors.New("sink panicked")
)

// Options configures a Pipeline.
type Options struct {
	Workers       int
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration

	// ValidateQuality rejects samples whose quality is neither good nor uncertain.
	ValidateQuality         bool
	OutlierDetection        bool
	OutlierThresholdPercent float64

	Sink        BatchSink
	Logger      *zap.SugaredLogger
	Metrics     *metrics.Collectors
	Performance *metrics.Performance
}

// Pipeline validates, de-noises and batches samples on a pool of workers.
type Pipeline struct {
	opts  Options
	log   *zap.SugaredLogger
	perf  *metrics.Performance
	queue *queue
	cache *utils.LastValueCache

	batchSize     atomic.Int64
	flushInterval atomic.Int64

	batchMu   sync.Mutex
	batch     []model.SensorSample
	lastFlush time.Time

	lifeMu   sync.Mutex
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	flushCtx context.Context
}

// New validates opts and builds a stopped pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", opts.Workers)
	}
	if opts.BufferSize < 1 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", opts.BufferSize)
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	perf := opts.Performance
	if perf == nil {
		perf = &metrics.Performance{}
	}
	p := &Pipeline{
		opts:     opts,
		log:      logger.OrNop(opts.Logger),
		perf:     perf,
		queue:    newQueue(opts.BufferSize, opts.Workers),
		cache:    utils.NewLastValueCache(),
		batch:    make([]model.SensorSample, 0, opts.BatchSize),
		flushCtx: context.Background(),
	}
	p.batchSize.Store(int64(opts.BatchSize))
	p.flushInterval.Store(int64(opts.FlushInterval))
	return p, nil
}

// Start launches the workers. Sink calls run on a context detached from
// ctx so an in-flight or final flush is not cut short by shutdown.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.running.Load() {
		return errors.New("pipeline already started")
	}
	wctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.flushCtx = context.WithoutCancel(ctx)

	p.batchMu.Lock()
	p.lastFlush = time.Now()
	p.batchMu.Unlock()
	p.perf.Touch(time.Now())

	p.queue.open()
	p.running.Store(true)
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(wctx)
	}
	p.log.Infof("pipeline started: %d workers, batch %d, flush every %s", p.opts.Workers, p.BatchSize(), p.FlushInterval())
	return nil
}

// Stop rejects new samples, lets workers drain the queue, joins them and
// flushes whatever is left in the batch.
func (p *Pipeline) Stop() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if !p.running.Swap(false) {
		return
	}
	// Close before cancel: a push that wins the race is still drained.
	p.queue.close()
	p.cancel()
	p.wg.Wait()

	n := p.finalFlush()
	p.log.Infof("pipeline stopped (final flush of %d samples)", n)
}

func (p *Pipeline) finalFlush() int {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	n := len(p.batch)
	p.flushLocked()
	return n
}

// Running reports whether the pipeline accepts samples.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Enqueue validates s and queues it for the workers.
func (p *Pipeline) Enqueue(s model.SensorSample) error {
	if !p.running.Load() {
		p.opts.Metrics.Rejected(metrics.ReasonNotRunning)
		return ErrNotRunning
	}
	if err := p.validate(s); err != nil {
		p.perf.AddFailure()
		p.opts.Metrics.Rejected(metrics.ReasonInvalid)
		return err
	}
	if err := p.queue.push(s); err != nil {
		if errors.Is(err, ErrNotRunning) {
			p.opts.Metrics.Rejected(metrics.ReasonNotRunning)
			return err
		}
		p.perf.AddFailure()
		p.opts.Metrics.Rejected(metrics.ReasonQueueFull)
		return err
	}
	p.perf.AddSample()
	p.opts.Metrics.Enqueued()
	p.opts.Metrics.Queue(p.queue.len())
	return nil
}

// EnqueueMany queues every valid sample and returns how many were accepted.
func (p *Pipeline) EnqueueMany(samples []model.SensorSample) int {
	n := 0
	for _, s := range samples {
		if p.Enqueue(s) == nil {
			n++
		}
	}
	return n
}

func (p *Pipeline) validate(s model.SensorSample) error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidSample)
	}
	if s.Name == "" {
		return fmt.Errorf("%w: empty name for %s", ErrInvalidSample, s.ID)
	}
	if p.opts.ValidateQuality && !s.Quality.Accepted() {
		return fmt.Errorf("%w: quality %q for %s", ErrInvalidSample, s.Quality, s.ID)
	}
	return nil
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	timer := time.NewTimer(workerWait)
	defer timer.Stop()

	for {
		more, panicked := p.guard(p.processNext)
		if panicked {
			select {
			case <-ctx.Done():
			case <-time.After(workerWait):
			}
			continue
		}
		if more {
			continue
		}
		timer.Reset(workerWait)
		select {
		case <-ctx.Done():
			p.drain()
			return
		case <-p.queue.wake:
		case <-timer.C:
			p.guard(func() bool { p.flushIfDue(); return false })
		}
	}
}

// drain processes what is left in the queue once the worker is told to stop.
func (p *Pipeline) drain() {
	for {
		more, panicked := p.guard(p.processNext)
		if !more && !panicked {
			return
		}
	}
}

// guard runs one unit of worker work. A panic is logged and reported
// instead of taking the process down.
func (p *Pipeline) guard(step func() bool) (more, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("worker panic recovered: %v", r)
			panicked = true
		}
	}()
	return step(), false
}

// processNext pops one sample and carries it into the batch. It returns
// false when the queue was empty.
func (p *Pipeline) processNext() bool {
	start := time.Now()
	var accepted bool
	s, ok := p.queue.take(func(s model.SensorSample) { accepted = p.screen(s) })
	if !ok {
		return false
	}
	if accepted {
		p.append(s, start)
	}
	return true
}

// screen runs the outlier check and, for accepted samples, updates the
// last-value cache. Called under the queue lock.
func (p *Pipeline) screen(s model.SensorSample) bool {
	if p.opts.OutlierDetection {
		if last, ok := p.cache.Get(s.ID); ok && isOutlier(last.Value, s.Value, p.opts.OutlierThresholdPercent) {
			p.perf.AddFailure()
			p.opts.Metrics.Rejected(metrics.ReasonOutlier)
			p.log.Debugf("outlier rejected for %s: %g -> %g", s.ID, last.Value, s.Value)
			return false
		}
	}
	p.cache.Set(s)
	return true
}

// isOutlier reports whether v moved more than thresholdPct percent away from last.
// A zero last value has no relative scale and never flags. The check is
// skipped on purpose: the literal ratio is +Inf there, which would reject
// every later value and latch a sensor that once read zero.
func isOutlier(last, v, thresholdPct float64) bool {
	if last == 0 {
		return false
	}
	return math.Abs(v-last)/math.Abs(last) > thresholdPct/100
}

func (p *Pipeline) append(s model.SensorSample, start time.Time) {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	p.batch = append(p.batch, s)

	elapsed := time.Since(start)
	p.perf.ObserveLatency(float64(elapsed) / float64(time.Millisecond))
	p.opts.Metrics.ObserveLatency(elapsed.Seconds())
	p.opts.Metrics.Queue(p.queue.len())

	if p.dueLocked(time.Now()) {
		p.flushLocked()
	}
}

func (p *Pipeline) flushIfDue() {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	if p.dueLocked(time.Now()) {
		p.flushLocked()
	}
}

func (p *Pipeline) dueLocked(now time.Time) bool {
	if len(p.batch) >= int(p.batchSize.Load()) {
		return true
	}
	return now.Sub(p.lastFlush) >= time.Duration(p.flushInterval.Load())
}

// flushLocked hands the batch to the sink and always starts a new one.
// The caller holds batchMu for the whole sink round-trip.
func (p *Pipeline) flushLocked() {
	if len(p.batch) == 0 {
		return
	}
	out := p.batch
	p.batch = make([]model.SensorSample, 0, p.BatchSize())
	p.lastFlush = time.Now()

	if p.opts.Sink == nil {
		p.log.Warnf("no sink configured, dropping batch of %d samples", len(out))
		return
	}
	err := p.write(out)
	if err != nil {
		p.perf.AddFailure()
		p.log.Errorf("flush of %d samples failed: %v", len(out), err)
	} else {
		p.perf.AddSuccess()
		p.log.Debugf("flushed %d samples", len(out))
	}
	p.opts.Metrics.Batch(err == nil)
	p.perf.Touch(time.Now())
	p.lastFlush = time.Now()
}

// Check returns nil while the pipeline is healthy.
func (p *Pipeline) Check() error {
	if !p.running.Load() {
		return ErrNotRunning
	}
	if n := p.queue.len(); float64(n) > highWaterPct*float64(p.opts.BufferSize) {
		return fmt.Errorf("queue at %d of %d", n, p.opts.BufferSize)
	}
	if last := p.perf.LastUpdate(); time.Since(last) > staleAfter {
		return fmt.Errorf("no metrics update since %s", last.Format(time.RFC3339))
	}
	return nil
}

// Healthy is Check() == nil.
func (p *Pipeline) Healthy() bool { return p.Check() == nil }

// QueueLen returns the number of samples waiting for a worker.
func (p *Pipeline) QueueLen() int { return p.queue.len() }

// BatchLen returns the number of samples in the current batch.
func (p *Pipeline) BatchLen() int {
	p.batchMu.Lock()
	defer p.batchMu.Unlock()
	return len(p.batch)
}

func (p *Pipeline) BatchSize() int                    { return int(p.batchSize.Load()) }
func (p *Pipeline) FlushInterval() time.Duration      { return time.Duration(p.flushInterval.Load()) }
func (p *Pipeline) Performance() *metrics.Performance { return p.perf }

// SetBatchSize changes the size trigger; values below 1 are ignored.
func (p *Pipeline) SetBatchSize(n int) {
	if n < 1 {
		return
	}
	p.batchSize.Store(int64(n))
	p.log.Infof("batch size set to %d", n)
}

// SetFlushInterval changes the time trigger; non-positive values are ignored.
func (p *Pipeline) SetFlushInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.flushInterval.Store(int64(d))
	p.log.Infof("flush interval set to %s", d)
}

// Latest returns the last accepted sample of every sensor, ordered by id.
func (p *Pipeline) Latest() []model.SensorSample { return p.cache.Snapshot() }

// write calls the sink, turning a sink panic into a failed write.
func (p *Pipeline) write(out []model.SensorSample) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errSinkPanic, r)
		}
	}()
	return p.opts.Sink.WriteBatch(p.flushCtx, out)
}
