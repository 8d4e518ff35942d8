// ABOUTME: Worker pool concurrency budget for the task scheduler
// ABOUTME: Channel-based counting semaphore bounding running tasks

package tasks

// DefaultMaxWorkers is the pool size used when NewPool is given a non-positive value.
const DefaultMaxWorkers = 4

// Pool bounds how many tasks may run at once.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool allowing n concurrent workers.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = DefaultMaxWorkers
	}
	return &Pool{slots: make(chan struct{}, n)}
}

// Max returns the concurrency budget.
func (p *Pool) Max() int {
	return cap(p.slots)
}

// InUse returns the number of acquired slots.
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Available returns the number of free slots.
func (p *Pool) Available() int {
	return cap(p.slots) - len(p.slots)
}

// TryAcquire takes a slot without blocking. Returns true if a slot was acquired.
func (p *Pool) TryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by TryAcquire.
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
	}
}
