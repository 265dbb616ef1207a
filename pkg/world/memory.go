package world

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory kinds.
const (
	KindObservation  = "observation"
	KindConversation = "conversation"
	KindEvent        = "event"
)

const maxMemoriesPerWorker = 200

// Memory is one thing a worker remembers.
type Memory struct {
	ID         string    `json:"id"`
	WorkerID   string    `json:"worker_id"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content"`
	Importance int       `json:"importance"` // 1-10
	Step       int64     `json:"step"`
	CreatedAt  time.Time `json:"created_at"`
	Score      float64   `json:"score,omitempty"` // Set by Retrieve
}

// MemoryStore keeps per-worker memories and returns the most relevant ones for a query.
type MemoryStore interface {
	Add(ctx context.Context, m Memory) error
	Retrieve(ctx context.Context, workerID, query string, limit int) ([]Memory, error)
	// Recent returns up to limit memories, newest first. limit <= 0 returns all.
	Recent(ctx context.Context, workerID string, limit int) ([]Memory, error)
}

// NewMemory fills in ID and creation time.
func NewMemory(workerID, kind, content string, importance int, step int64) Memory {
	return Memory{
		ID:         uuid.NewString(),
		WorkerID:   workerID,
		Kind:       kind,
		Content:    content,
		Importance: importance,
		Step:       step,
		CreatedAt:  time.Now(),
	}
}

// InMemoryStore is a MemoryStore that forgets everything on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories map[string][]Memory
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{memories: make(map[string][]Memory)}
}

// Add stores m, dropping the worker's oldest memory when over capacity.
func (s *InMemoryStore) Add(_ context.Context, m Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.memories[m.WorkerID], m)
	if len(list) > maxMemoriesPerWorker {
		list = list[len(list)-maxMemoriesPerWorker:]
	}
	s.memories[m.WorkerID] = list
	return nil
}

// Retrieve ranks the worker's memories against query.
func (s *InMemoryStore) Retrieve(_ context.Context, workerID, query string, limit int) ([]Memory, error) {
	s.mu.RLock()
	list := make([]Memory, len(s.memories[workerID]))
	copy(list, s.memories[workerID])
	s.mu.RUnlock()
	return Rank(list, query, limit), nil
}

// Recent returns the worker's newest memories first.
func (s *InMemoryStore) Recent(_ context.Context, workerID string, limit int) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.memories[workerID]
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Memory, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Rank scores memories by keyword overlap with query, importance and recency, and
// returns the best limit of them, most relevant first. list must be oldest first.
func Rank(list []Memory, query string, limit int) []Memory {
	keywords := tokenize(query)
	n := len(list)
	for i := range list {
		overlap := 0
		words := tokenize(list[i].Content)
		for w := range keywords {
			if words[w] {
				overlap++
			}
		}
		recency := math.Pow(0.95, float64(n-1-i))
		list[i].Score = float64(overlap) + float64(list[i].Importance)/10 + recency
	}

	sort.SliceStable(list, func(a, b int) bool {
		return list[a].Score > list[b].Score
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Contents returns just the text of each memory.
func Contents(memories []Memory) []string {
	out := make([]string, len(memories))
	for i, m := range memories {
		out[i] = m.Content
	}
	return out
}

func tokenize(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	}) {
		if len(w) >= 3 {
			words[w] = true
		}
	}
	return words
}
