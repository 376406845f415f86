package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifcast/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func message(id int64, start time.Time) *model.Message {
	return &model.Message{
		ID:        id,
		Sender:    "city",
		Title:     "notice",
		Content:   "content",
		Starttime: &start,
		Links:     []string{"https://example.org"},
	}
}

func TestUpsertIfAbsentDedups(t *testing.T) {
	s := openTestStore(t)
	m := message(42, time.Now())

	inserted, err := s.UpsertIfAbsent(m)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Redelivery of the same identity must not create a second record.
	inserted, err = s.UpsertIfAbsent(m)
	require.NoError(t, err)
	assert.False(t, inserted)

	records, err := s.QueryAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(42), records[0].ID)
	assert.Equal(t, []string{"https://example.org"}, records[0].Links)
}

func TestDuplicateDeliveryKeepsOverlay(t *testing.T) {
	s := openTestStore(t)
	m := message(7, time.Now())

	_, err := s.UpsertIfAbsent(m)
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(7))
	require.NoError(t, s.SetFavourite(7, true))

	// A duplicate must not reset the client-owned flags.
	_, err = s.UpsertIfAbsent(m)
	require.NoError(t, err)

	records, err := s.QueryAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Read)
	assert.True(t, records[0].Favourite)
}

func TestMutationsOnMissingRecord(t *testing.T) {
	s := openTestStore(t)

	assert.ErrorIs(t, s.MarkRead(99), model.ErrNotFound)
	assert.ErrorIs(t, s.SetFavourite(99, true), model.ErrNotFound)
	assert.ErrorIs(t, s.Delete(99), model.ErrNotFound)
}

func TestUnreadCountTracksMutations(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	unread := func() int {
		n, err := s.UnreadCount()
		require.NoError(t, err)
		return n
	}

	_, err := s.UpsertIfAbsent(message(1, now))
	require.NoError(t, err)
	_, err = s.UpsertIfAbsent(message(2, now))
	require.NoError(t, err)
	_, err = s.UpsertIfAbsent(message(3, now))
	require.NoError(t, err)
	assert.Equal(t, 3, unread())

	require.NoError(t, s.MarkRead(2))
	assert.Equal(t, 2, unread())

	// Marking read twice stays at the same count.
	require.NoError(t, s.MarkRead(2))
	assert.Equal(t, 2, unread())

	require.NoError(t, s.Delete(1))
	assert.Equal(t, 1, unread())

	require.NoError(t, s.Delete(2)) // already read, count unchanged
	assert.Equal(t, 1, unread())

	require.NoError(t, s.MarkRead(3))
	assert.Equal(t, 0, unread())
}

func TestUnreadChangeNotification(t *testing.T) {
	s := openTestStore(t)

	var mu sync.Mutex
	var seen []int
	s.OnUnreadChange(func(n int) {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	_, err := s.UpsertIfAbsent(message(1, time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.MarkRead(1))
	require.NoError(t, s.Delete(1))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0, 0}, seen)
}

func TestQueryAllOrdering(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.UpsertIfAbsent(message(1, base))
	require.NoError(t, err)
	_, err = s.UpsertIfAbsent(message(2, base.Add(time.Hour)))
	require.NoError(t, err)
	// Same start time as 2: identity breaks the tie, higher id first.
	_, err = s.UpsertIfAbsent(message(5, base.Add(time.Hour)))
	require.NoError(t, err)

	records, err := s.QueryAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []int64{5, 2, 1}, []int64{records[0].ID, records[1].ID, records[2].ID})
}

func TestConcurrentUpsertAndDelete(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.UpsertIfAbsent(message(1, now))
			_ = s.Delete(1)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the store is consistent: the unread
	// count equals the number of stored unread records.
	records, err := s.QueryAll()
	require.NoError(t, err)
	unread, err := s.UnreadCount()
	require.NoError(t, err)

	stored := 0
	for _, r := range records {
		if !r.Read {
			stored++
		}
	}
	assert.Equal(t, stored, unread)
	assert.LessOrEqual(t, len(records), 1)
}
