// Package dedup suppresses notifications whose content repeats within a short
// window. The transport may redeliver frames around reconnects, so the key is
// coarse on purpose: message text plus a time bucket, not a sequence id.
package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomnotify/internal/notification"
	"roomnotify/internal/runtime/clock"
	logx "roomnotify/pkg/logx"
)

const (
	DefaultBucket = 10 * time.Second
	DefaultTTL    = 30 * time.Second
)

type Options struct {
	// Bucket groups identical messages arriving close together. Default 10s.
	Bucket time.Duration
	// TTL is how long an admitted fingerprint blocks repeats. Default 30s.
	TTL   time.Duration
	Clock clock.Clock
	Log   logx.Logger
	// NewID generates ids for notifications that arrive without one.
	NewID func() string
}

// Deduplicator holds the active fingerprint set. Each admitted fingerprint has
// its own expiry task; the set is only touched under mu.
type Deduplicator struct {
	bucket time.Duration
	ttl    time.Duration
	clk    clock.Clock
	log    logx.Logger
	newID  func() string
	tasks  *clock.Tasks

	mu     sync.Mutex
	active map[string]clock.Task
	closed bool
}

func New(opts Options) *Deduplicator {
	if opts.Bucket < time.Millisecond {
		opts.Bucket = DefaultBucket
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Deduplicator{
		bucket: opts.Bucket,
		ttl:    opts.TTL,
		clk:    opts.Clock,
		log:    opts.Log,
		newID:  opts.NewID,
		tasks:  clock.NewTasks(opts.Clock),
		active: map[string]clock.Task{},
	}
}

// Fingerprint returns message + "-" + floor(ts / bucket).
func Fingerprint(message string, ts time.Time, bucket time.Duration) string {
	if bucket < time.Millisecond {
		bucket = DefaultBucket
	}
	return fmt.Sprintf("%s-%d", message, ts.UnixMilli()/bucket.Milliseconds())
}

// Accept admits n unless its fingerprint is active. Admitted notifications get a
// fingerprint and an id when they lack one. After Close everything is suppressed.
func (d *Deduplicator) Accept(n notification.Notification) (notification.Notification, bool) {
	if n.Timestamp.IsZero() {
		n.Timestamp = d.clk.Now()
	}
	if n.Fingerprint == "" {
		n.Fingerprint = Fingerprint(n.Message, n.Timestamp, d.bucket)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return n, false
	}
	if _, ok := d.active[n.Fingerprint]; ok {
		d.log.Debug("duplicate notification suppressed", logx.String("fingerprint", n.Fingerprint))
		return n, false
	}
	if n.ID == "" {
		n.ID = d.newID()
	}

	fp := n.Fingerprint
	var task clock.Task
	task = d.tasks.Schedule(d.ttl, func() { d.expire(fp, &task) })
	d.active[fp] = task
	return n, true
}

func (d *Deduplicator) expire(fp string, task *clock.Task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.active[fp]; ok && cur == *task {
		delete(d.active, fp)
	}
}

// Active returns the number of fingerprints currently blocking repeats.
func (d *Deduplicator) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Reset cancels every expiry task and forgets all fingerprints.
// Tasks are cancelled under mu so an Accept racing with Reset keeps its own
// expiry task.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, task := range d.active {
		task.Cancel()
	}
	d.active = map[string]clock.Task{}
}

// Close is Reset plus suppressing everything from now on.
func (d *Deduplicator) Close() {
	d.mu.Lock()
	d.closed = true
	d.active = map[string]clock.Task{}
	d.mu.Unlock()
	d.tasks.Close()
}
