package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/omnipost/internal/domain"
	"github.com/shaiso/omnipost/internal/telemetry"
)

// ErrStopped — очередь остановлена, задания не принимаются.
var ErrStopped = errors.New("queue: stopped")

const defaultConcurrency = 4

// Handler выполняет задание.
type Handler func(ctx context.Context, job *domain.StepJob) error

// Local — очередь с отложенным выполнением в памяти.
type Local struct {
	handler     Handler
	concurrency int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	items   jobHeap
	seq     uint64
	started bool
	stopped bool
	wake    chan struct{}

	ready  chan *domain.StepJob
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config — конфигурация Local.
type Config struct {
	// Handler — обработчик заданий (обязателен).
	Handler Handler

	// Concurrency — сколько заданий выполняется одновременно (default: 4).
	Concurrency int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

// NewLocal создаёт очередь. Задания выполняются после Start.
func NewLocal(cfg Config) *Local {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Local{
		handler:     cfg.Handler,
		concurrency: concurrency,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         time.Now,
		wake:        make(chan struct{}, 1),
		ready:       make(chan *domain.StepJob),
	}
}

// SetHandler задаёт обработчик. Вызывается до Start.
func (q *Local) SetHandler(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// EnqueueAt ставит задание на время at.
func (q *Local) EnqueueAt(_ context.Context, at time.Time, job *domain.StepJob) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}

	job.RunAt = at
	q.seq++
	heap.Push(&q.items, &item{job: job, seq: q.seq})
	depth := len(q.items)
	q.mu.Unlock()

	q.setDepth(depth)
	q.notify()
	return nil
}

// Len возвращает количество ожидающих заданий.
func (q *Local) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Start запускает диспетчер и пул обработчиков.
func (q *Local) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go q.dispatch(ctx)

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}

	q.logger.Info("local queue started", "concurrency", q.concurrency)
}

// Stop останавливает очередь и ждёт завершения выполняющихся заданий.
func (q *Local) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	q.logger.Info("local queue stopped", "dropped", q.Len())
}

// dispatch ждёт наступления RunAt ближайшего задания и отдаёт его пулу.
func (q *Local) dispatch(ctx context.Context) {
	defer q.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		job, wait := q.next()
		if job != nil {
			select {
			case q.ready <- job:
				continue
			case <-ctx.Done():
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// next снимает готовое задание или возвращает время до ближайшего.
func (q *Local) next() (*domain.StepJob, time.Duration) {
	q.mu.Lock()

	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil, time.Hour
	}

	head := q.items[0]
	wait := head.job.RunAt.Sub(q.now())
	if wait > 0 {
		q.mu.Unlock()
		return nil, wait
	}

	heap.Pop(&q.items)
	depth := len(q.items)
	q.mu.Unlock()

	q.setDepth(depth)
	return head.job, 0
}

// work выполняет готовые задания.
func (q *Local) work(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.ready:
			q.execute(ctx, job)
		}
	}
}

func (q *Local) execute(ctx context.Context, job *domain.StepJob) {
	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()

	if handler == nil {
		q.logger.Error("no handler, job dropped", "job_id", job.ID)
		return
	}

	if err := handler(ctx, job); err != nil {
		// Исход не записан — пробуем ещё раз через секунду
		q.logger.Error("job failed, retrying", "job_id", job.ID, "run_id", job.RunID, "error", err)
		if err := q.EnqueueAt(ctx, q.now().Add(time.Second), job); err != nil {
			q.logger.Warn("job dropped", "job_id", job.ID, "error", err)
		}
	}
}

// notify будит диспетчер.
func (q *Local) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Local) setDepth(depth int) {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(depth))
	}
}

// item — элемент кучи. seq сохраняет порядок постановки при равных RunAt.
type item struct {
	job *domain.StepJob
	seq uint64
}

type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.RunAt.Before(h[j].job.RunAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
