// internal/scheduler/scheduler.go
package scheduler

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"notifcast/internal/messaging"
	"notifcast/internal/metrics"
	"notifcast/internal/model"
)

// MessageSource is the repository slice the scheduler needs: the unsent
// backlog in scheduled order, and the monotonic sent transition.
type MessageSource interface {
	ListUnsent() ([]model.Message, error)
	MarkSent(id int64) error
}

// Publisher sends a payload to every queue bound to a destination key.
type Publisher interface {
	Publish(key string, body []byte) error
}

// Scheduler polls for due messages on a fixed interval and publishes them.
// Publish happens before the sent flag is persisted: a crash in between
// means redelivery next cycle, which client-side dedup absorbs. The
// opposite order could lose a message and is not an option here.
type Scheduler struct {
	source      MessageSource
	pub         Publisher
	interval    time.Duration
	parallelism int

	busy   atomic.Bool
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(source MessageSource, pub Publisher, interval time.Duration, parallelism int) *Scheduler {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Scheduler{
		source:      source,
		pub:         pub,
		interval:    interval,
		parallelism: parallelism,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the polling loop until Stop is called.
func (s *Scheduler) Start() {
	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Printf("[Scheduler] Started, interval %s", s.interval)
		for {
			select {
			case <-ticker.C:
				s.RunCycle(time.Now())
			case <-s.stopCh:
				log.Println("[Scheduler] Stopping...")
				return
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// RunCycle dispatches every due message once. A cycle still in progress when
// the next tick fires makes the new cycle a no-op rather than a queued run,
// so one message is never walked by two cycles at once. Returns the number
// of messages published and marked sent.
func (s *Scheduler) RunCycle(now time.Time) int {
	if !s.busy.CompareAndSwap(false, true) {
		log.Println("[Scheduler] Previous cycle still running, skipping tick")
		return 0
	}
	defer s.busy.Store(false)

	pending, err := s.source.ListUnsent()
	if err != nil {
		log.Printf("[Scheduler] Failed to list unsent messages: %v", err)
		return 0
	}

	sent := 0
	for i := range pending {
		m := &pending[i]
		// Ordered ascending by start time: the first future message ends
		// the due subset.
		if m.Starttime != nil && m.Starttime.After(now) {
			break
		}

		if err := s.dispatch(m); err != nil {
			log.Printf("[Scheduler] Message %d not dispatched: %v", m.ID, err)
			continue
		}
		if err := s.source.MarkSent(m.ID); err != nil {
			// Already published; the next cycle republishes and the
			// client store dedups the duplicate.
			log.Printf("[Scheduler] Message %d published but not marked sent: %v", m.ID, err)
			continue
		}
		metrics.MessagesDispatched.Inc()
		sent++
	}

	metrics.DispatchCycles.Inc()
	return sent
}

// dispatch publishes one message under every applicable destination key with
// bounded parallelism. Any failed key leaves the message unsent; the retry
// next cycle republishes all keys and duplicates are absorbed client-side.
func (s *Scheduler) dispatch(m *model.Message) error {
	body, err := model.EncodeMessage(m)
	if err != nil {
		return err
	}

	keys := DestinationKeys(m)
	sem := make(chan struct{}, s.parallelism)
	errCh := make(chan error, len(keys))
	var wg sync.WaitGroup

	for _, key := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(key string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.pub.Publish(key, body); err != nil {
				metrics.PublishFailures.WithLabelValues(key).Inc()
				errCh <- err
			}
		}(key)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return nil
}

// DestinationKeys resolves where a message is published: its topic's binding
// key plus every property binding key, or the broadcast key when it has
// neither.
func DestinationKeys(m *model.Message) []string {
	var keys []string
	if m.TopicKey != nil && *m.TopicKey != "" {
		keys = append(keys, *m.TopicKey)
	}
	for _, p := range m.Properties {
		keys = append(keys, p.BindingKey)
	}
	if len(keys) == 0 {
		keys = append(keys, messaging.BroadcastKey)
	}
	return keys
}
