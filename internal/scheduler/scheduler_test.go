package scheduler

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifcast/internal/client/store"
	"notifcast/internal/messaging"
	"notifcast/internal/model"
)

// --- fakes ---

type fakeSource struct {
	mu       sync.Mutex
	messages []model.Message
	markErr  map[int64]error
	listGate chan struct{} // when set, ListUnsent blocks until closed
}

func (f *fakeSource) ListUnsent() ([]model.Message, error) {
	if f.listGate != nil {
		<-f.listGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Message
	for _, m := range f.messages {
		if !m.Sent {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Starttime, out[j].Starttime
		switch {
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	return out, nil
}

func (f *fakeSource) MarkSent(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.markErr[id]; err != nil {
		return err
	}
	for i := range f.messages {
		if f.messages[i].ID == id {
			f.messages[i].Sent = true
			return nil
		}
	}
	return model.ErrNotFound
}

func (f *fakeSource) sent(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m.Sent
		}
	}
	return false
}

type publishCall struct {
	key  string
	body []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishCall
	failKeys  map[string]bool
}

func (f *fakePublisher) Publish(key string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failKeys[key] {
		return fmt.Errorf("publish to %s: broker unavailable", key)
	}
	f.published = append(f.published, publishCall{key: key, body: body})
	return nil
}

func (f *fakePublisher) calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

func timePtr(t time.Time) *time.Time { return &t }
func strPtr(s string) *string        { return &s }

// --- tests ---

func TestCycleDispatchesExactlyDueMessages(t *testing.T) {
	now := time.Now()
	src := &fakeSource{messages: []model.Message{
		{ID: 1, Sender: "s", Title: "A", Starttime: timePtr(now.Add(-5 * time.Minute))},
		{ID: 2, Sender: "s", Title: "B", Starttime: timePtr(now.Add(time.Hour))},
		{ID: 3, Sender: "s", Title: "C", Starttime: timePtr(now.Add(-time.Hour)), Sent: true},
	}}
	pub := &fakePublisher{}

	s := New(src, pub, time.Minute, 2)
	sent := s.RunCycle(now)

	assert.Equal(t, 1, sent)
	require.Len(t, pub.calls(), 1)
	assert.Equal(t, messaging.BroadcastKey, pub.calls()[0].key)

	assert.True(t, src.sent(1), "due message A must be marked sent")
	assert.False(t, src.sent(2), "future message B must stay unsent")
	assert.True(t, src.sent(3), "C was sent before the cycle")

	// A second cycle has nothing left to do.
	assert.Zero(t, s.RunCycle(now))
	assert.Len(t, pub.calls(), 1)
}

func TestDispatchUsesAllDestinationKeys(t *testing.T) {
	now := time.Now()
	src := &fakeSource{messages: []model.Message{{
		ID:        1,
		Sender:    "s",
		Title:     "topic and properties",
		Starttime: timePtr(now.Add(-time.Minute)),
		TopicKey:  strPtr("traffic"),
		Properties: []model.Property{
			{ID: 10, BindingKey: "region/south", Name: "South"},
			{ID: 11, BindingKey: "fuel/electric", Name: "Electric"},
		},
	}}}
	pub := &fakePublisher{}

	s := New(src, pub, time.Minute, 2)
	require.Equal(t, 1, s.RunCycle(now))

	keys := make(map[string]int)
	for _, c := range pub.calls() {
		keys[c.key]++
	}
	assert.Equal(t, map[string]int{"traffic": 1, "region/south": 1, "fuel/electric": 1}, keys)
}

func TestPublishFailureDoesNotBlockCycle(t *testing.T) {
	now := time.Now()
	src := &fakeSource{messages: []model.Message{
		{ID: 1, Sender: "s", Title: "broken", Starttime: timePtr(now.Add(-2 * time.Minute)), TopicKey: strPtr("down")},
		{ID: 2, Sender: "s", Title: "fine", Starttime: timePtr(now.Add(-time.Minute)), TopicKey: strPtr("up")},
	}}
	pub := &fakePublisher{failKeys: map[string]bool{"down": true}}

	s := New(src, pub, time.Minute, 2)
	assert.Equal(t, 1, s.RunCycle(now))

	assert.False(t, src.sent(1), "failed message stays unsent")
	assert.True(t, src.sent(2), "later due message still dispatched")

	// Broker back up: the failed message goes out on the next cycle.
	pub.failKeys = nil
	assert.Equal(t, 1, s.RunCycle(now))
	assert.True(t, src.sent(1))
}

func TestCrashBetweenPublishAndPersistIsAbsorbedByDedup(t *testing.T) {
	now := time.Now()
	src := &fakeSource{
		messages: []model.Message{
			{ID: 9, Sender: "city", Title: "flood warning", Content: "river rising", Starttime: timePtr(now.Add(-time.Minute))},
		},
		markErr: map[int64]error{9: fmt.Errorf("connection reset")},
	}
	pub := &fakePublisher{}
	s := New(src, pub, time.Minute, 1)

	// First cycle: publish succeeds, the sent flag is not persisted.
	assert.Zero(t, s.RunCycle(now))
	assert.False(t, src.sent(9))

	// Next cycle after recovery republishes the same message.
	src.mu.Lock()
	src.markErr = nil
	src.mu.Unlock()
	assert.Equal(t, 1, s.RunCycle(now))
	require.Len(t, pub.calls(), 2)

	// The client-side store absorbs the duplicate delivery.
	st, err := store.Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	defer st.Close()

	for _, c := range pub.calls() {
		m, err := model.DecodeMessage(c.body)
		require.NoError(t, err)
		_, err = st.UpsertIfAbsent(m)
		require.NoError(t, err)
	}
	records, err := st.QueryAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestOverlappingCycleIsSkippedNotQueued(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		messages: []model.Message{{ID: 1, Sender: "s", Title: "slow", Starttime: timePtr(time.Now().Add(-time.Minute))}},
		listGate: gate,
	}
	pub := &fakePublisher{}
	s := New(src, pub, time.Minute, 1)

	done := make(chan int)
	go func() { done <- s.RunCycle(time.Now()) }()

	// Wait until the first cycle holds the busy flag.
	require.Eventually(t, func() bool { return s.busy.Load() }, time.Second, time.Millisecond)

	// The tick that fires mid-cycle does nothing.
	assert.Zero(t, s.RunCycle(time.Now()))

	close(gate)
	assert.Equal(t, 1, <-done)
	assert.Len(t, pub.calls(), 1)
}

func TestDestinationKeys(t *testing.T) {
	assert.Equal(t, []string{messaging.BroadcastKey}, DestinationKeys(&model.Message{}))

	m := &model.Message{
		TopicKey:   strPtr("traffic"),
		Properties: []model.Property{{BindingKey: "region/south"}},
	}
	assert.Equal(t, []string{"traffic", "region/south"}, DestinationKeys(m))

	assert.Equal(t, []string{"region/south"},
		DestinationKeys(&model.Message{Properties: []model.Property{{BindingKey: "region/south"}}}))
}
