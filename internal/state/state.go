package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"birdtrade/internal/social"
)

// Checkpoint is the newest post seen from one author. Authors are keyed by
// their normalized handle.
type Checkpoint struct {
	PostID   string    `json:"post_id"`
	PostTime time.Time `json:"post_time,omitempty"`
	SeenAt   time.Time `json:"seen_at"`
}

type Counters struct {
	Posts        int64 `json:"posts"`
	Matched      int64 `json:"matched"`
	OrdersPlaced int64 `json:"orders_placed"`
	OrdersFailed int64 `json:"orders_failed"`

	// OrdersExpired were cancelled after their order_ttl or cancel_after.
	OrdersExpired  int64 `json:"orders_expired"`
	FallbackOrders int64 `json:"fallback_orders"`
}

type Snapshot struct {
	// RunID identifies the process that wrote the snapshot; its client order
	// ids start with it.
	RunID    string                `json:"run_id,omitempty"`
	Authors  map[string]Checkpoint `json:"authors"`
	Counters Counters              `json:"counters"`
	SavedAt  time.Time             `json:"saved_at"`
}

type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

func NewStore() *Store {
	return &Store{
		snapshot: Snapshot{
			Authors: map[string]Checkpoint{},
		},
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy := s.snapshot
	copy.Authors = make(map[string]Checkpoint, len(s.snapshot.Authors))
	for k, v := range s.snapshot.Authors {
		copy.Authors[k] = v
	}
	return copy
}

// Seen reports whether post is not newer than the checkpoint for its author.
func (s *Store) Seen(post social.Post) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.snapshot.Authors[post.Handle()]
	if !ok {
		return false
	}
	return !newer(post, cp)
}

// Observe records post as seen and advances its author's checkpoint if the
// post is newer.
func (s *Store) Observe(post social.Post, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Counters.Posts++
	author := post.Handle()
	cp, ok := s.snapshot.Authors[author]
	if ok && !newer(post, cp) {
		return
	}
	s.snapshot.Authors[author] = Checkpoint{PostID: post.ID, PostTime: post.CreatedAt, SeenAt: now}
}

func (s *Store) AddMatched(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Counters.Matched += n
}

func (s *Store) AddOrders(placed, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Counters.OrdersPlaced += placed
	s.snapshot.Counters.OrdersFailed += failed
}

func (s *Store) AddExpired(expired, fallbacks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Counters.OrdersExpired += expired
	s.snapshot.Counters.FallbackOrders += fallbacks
}

// SetRunID replaces the run id and returns the previous one.
func (s *Store) SetRunID(runID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.snapshot.RunID
	s.snapshot.RunID = runID
	return prev
}

func (s *Store) Save(path string) error {
	s.mu.Lock()
	s.snapshot.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Authors == nil {
		snapshot.Authors = map[string]Checkpoint{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	return nil
}

func newer(post social.Post, cp Checkpoint) bool {
	if post.ID == cp.PostID {
		return false
	}
	if !post.CreatedAt.IsZero() && !cp.PostTime.IsZero() && !post.CreatedAt.Equal(cp.PostTime) {
		return post.CreatedAt.After(cp.PostTime)
	}
	a, errA := strconv.ParseUint(post.ID, 10, 64)
	b, errB := strconv.ParseUint(cp.PostID, 10, 64)
	if errA == nil && errB == nil {
		return a > b
	}
	return true
}
