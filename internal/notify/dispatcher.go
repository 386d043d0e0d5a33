package notify

import (
	"context"
	"sync"
	"time"

	"github.com/saeid-a/ConsultBack/internal/metrics"
	"github.com/saeid-a/ConsultBack/internal/models"
	"go.uber.org/zap"
)

type notificationWriter interface {
	Create(ctx context.Context, notification models.Notification) (*models.Notification, error)
}

// Dispatcher persists notifications on a fixed pool of workers so that
// callers never wait on notification storage.
type Dispatcher struct {
	jobs    chan models.Notification
	writer  notificationWriter
	metrics *metrics.Metrics
	log     *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(bufferSize int, writer notificationWriter, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		jobs:    make(chan models.Notification, bufferSize),
		writer:  writer,
		metrics: m,
		log:     log.Named("notify"),
		timeout: 5 * time.Second,
	}
}

func (d *Dispatcher) Start(workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for notification := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		_, err := d.writer.Create(ctx, notification)
		cancel()
		if err != nil {
			d.metrics.RecordNotification("failed")
			d.log.Error("store notification failed",
				zap.Int64("user_id", notification.UserID),
				zap.String("kind", notification.Kind),
				zap.Error(err),
			)
			continue
		}
		d.metrics.RecordNotification("stored")
	}
}

// Notify queues notification and reports whether it was accepted. A full
// queue or a stopped dispatcher drops the notification.
func (d *Dispatcher) Notify(_ context.Context, notification models.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.RecordNotification("dropped")
		return false
	}

	select {
	case d.jobs <- notification:
		return true
	default:
		d.metrics.RecordNotification("dropped")
		d.log.Warn("notification queue full",
			zap.Int64("user_id", notification.UserID),
			zap.String("kind", notification.Kind),
		)
		return false
	}
}

// Shutdown stops accepting notifications and waits for queued ones to be stored.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}
