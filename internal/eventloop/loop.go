package eventloop

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueSize is the capacity of the posted-callback queue.
const DefaultQueueSize = 256

// Func is a loop callback. now is the loop's clock reading when the
// callback is dispatched.
type Func func(now time.Time)

type task struct {
	interval time.Duration
	next     time.Time
	fn       Func
}

// Loop is a cooperative scheduler: periodic tasks and posted callbacks all
// run on the goroutine that called Run, one at a time.
type Loop struct {
	mu    sync.Mutex
	tasks []*task

	posts chan Func
	done  chan struct{}
	now   func() time.Time
}

func New() *Loop {
	return &Loop{
		posts: make(chan Func, DefaultQueueSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}
}

// OnRepeat registers fn to run every interval. The first run happens one
// interval after the loop picks the task up.
func (l *Loop) OnRepeat(interval time.Duration, fn Func) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, &task{interval: interval, fn: fn})
}

// Post queues fn to run once on the loop goroutine. It blocks while the
// queue is full and returns false if the loop has already stopped.
func (l *Loop) Post(fn Func) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.posts <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Len returns the number of queued posts.
func (l *Loop) Len() int {
	return len(l.posts)
}

// Run dispatches callbacks until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		wait := l.runDue(l.now())
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.posts:
			fn(l.now())
		case <-timer.C:
		}
	}
}

// runDue runs every task whose deadline has passed and returns the time
// until the next one. Missed periods are not replayed.
func (l *Loop) runDue(now time.Time) time.Duration {
	l.mu.Lock()
	tasks := make([]*task, len(l.tasks))
	copy(tasks, l.tasks)
	l.mu.Unlock()

	wait := time.Hour
	for _, t := range tasks {
		if t.next.IsZero() {
			t.next = now.Add(t.interval)
		}
		if !now.Before(t.next) {
			t.fn(now)
			t.next = t.next.Add(t.interval)
			if !t.next.After(now) {
				t.next = now.Add(t.interval)
			}
		}
		if d := t.next.Sub(now); d < wait {
			wait = d
		}
	}
	return wait
}
