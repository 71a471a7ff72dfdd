package jobs

import (
	"sync"

	"frigate-commander/database"
)

// Subscription delivers job snapshots in publish order. The queue is
// unbounded so a slow consumer never stalls the job that publishes.
type Subscription struct {
	C <-chan database.Job

	c      chan database.Job
	mu     sync.Mutex
	queue  []database.Job
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	broker *Broker
	jobID  string // empty for subscribers to every job
}

func newSubscription(b *Broker, jobID string) *Subscription {
	c := make(chan database.Job)
	s := &Subscription{
		C:      c,
		c:      c,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		broker: b,
		jobID:  jobID,
	}
	go s.pump()
	return s
}

func (s *Subscription) push(job database.Job) {
	s.mu.Lock()
	s.queue = append(s.queue, job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump forwards queued snapshots to C until Close
func (s *Subscription) pump() {
	defer close(s.c)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.c <- next:
			case <-s.done:
				return
			}
		}
	}
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.done)
	})
}

// Broker fans job snapshots out to per-job and global subscribers
type Broker struct {
	mu     sync.Mutex
	byJob  map[string]map[*Subscription]struct{}
	global map[*Subscription]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		byJob:  make(map[string]map[*Subscription]struct{}),
		global: make(map[*Subscription]struct{}),
	}
}

// Subscribe receives the snapshots of one job
func (b *Broker) Subscribe(jobID string) *Subscription {
	s := newSubscription(b, jobID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byJob[jobID] == nil {
		b.byJob[jobID] = make(map[*Subscription]struct{})
	}
	b.byJob[jobID][s] = struct{}{}
	return s
}

// SubscribeAll receives the snapshots of every job
func (b *Broker) SubscribeAll() *Subscription {
	s := newSubscription(b, "")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global[s] = struct{}{}
	return s
}

// Publish queues a snapshot for every interested subscriber
func (b *Broker) Publish(job database.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.byJob[job.ID] {
		s.push(job)
	}
	for s := range b.global {
		s.push(job)
	}
}

// Subscribers returns the number of subscriptions to a job
func (b *Broker) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byJob[jobID])
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.jobID == "" {
		delete(b.global, s)
		return
	}
	subs := b.byJob[s.jobID]
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.byJob, s.jobID)
	}
}
