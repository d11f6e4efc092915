// Package memory provides the append-only workspace context store.
//
// Entries are appended with a TTL and expire; they are never mutated in
// place. Recall is semantic: entries are indexed in the vector store and
// retrieved by similarity, so later tasks can reuse what earlier tasks
// learned.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

// memoryCollection is the vector store collection for memory entries.
// Workspace scoping happens via metadata filtering.
const memoryCollection = "orchd_memories"

// Entry is one append-only memory record.
type Entry struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Key         string    `json:"key"`
	Payload     string    `json:"payload"`
	Importance  float64   `json:"importance"`
	CreatedAt   time.Time `json:"created_at"`
	TTL         time.Duration `json:"ttl"`
}

// expired reports whether the entry has outlived its TTL at now.
func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Recalled is a recall result: the entry plus its similarity score.
type Recalled struct {
	Entry Entry
	Score float32
}

// Config controls TTL defaults and the background sweep.
type Config struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// Service is the memory store. All public methods are thread-safe.
type Service struct {
	store  vectorstore.Store
	config Config
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*Entry

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewService creates a memory service backed by the given vector store.
func NewService(store vectorstore.Store, cfg Config, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * 24 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Service{
		store:   store,
		config:  cfg,
		logger:  logger,
		entries: make(map[string]*Entry),
	}, nil
}

// Append stores a new entry. The entry's ID and CreatedAt are assigned
// here; a zero TTL takes the configured default.
func (s *Service) Append(ctx context.Context, workspaceID, key, payload string, importance float64, ttl time.Duration) (*Entry, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace ID cannot be empty")
	}
	if payload == "" {
		return nil, fmt.Errorf("payload cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	entry := &Entry{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Key:         key,
		Payload:     payload,
		Importance:  importance,
		CreatedAt:   time.Now().UTC(),
		TTL:         ttl,
	}

	_, err := s.store.AddDocuments(ctx, []vectorstore.Document{{
		ID:         entry.ID,
		Collection: memoryCollection,
		Content:    payload,
		Metadata: map[string]string{
			"workspace_id": workspaceID,
			"key":          key,
			"importance":   strconv.FormatFloat(importance, 'f', 2, 64),
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("indexing memory entry: %w", err)
	}

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()

	return entry, nil
}

// Recall returns up to k entries semantically similar to the query,
// scoped to the workspace. Expired entries are filtered out even before
// the sweeper removes them.
func (s *Service) Recall(ctx context.Context, workspaceID, query string, k int) ([]Recalled, error) {
	if k <= 0 {
		k = 5
	}
	results, err := s.store.Search(ctx, memoryCollection, query, k,
		map[string]string{"workspace_id": workspaceID})
	if err != nil {
		if err == vectorstore.ErrCollectionNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("recalling memories: %w", err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Recalled
	for _, r := range results {
		entry, ok := s.entries[r.ID]
		if !ok || entry.expired(now) {
			continue
		}
		out = append(out, Recalled{Entry: *entry, Score: r.Score})
	}
	return out, nil
}

// Sweep removes expired entries from the index. Returns the number removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	var expired []string
	for id, entry := range s.entries {
		if entry.expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.store.DeleteDocuments(ctx, memoryCollection, expired); err != nil {
		return len(expired), fmt.Errorf("removing expired entries: %w", err)
	}

	s.logger.Info("memory sweep removed expired entries", zap.Int("count", len(expired)))
	return len(expired), nil
}

// DeleteWorkspace removes all entries for the workspace, both the
// records and their vector-index documents. Cascade path for workspace
// removal; TTL expiry is not a substitute since entries linger up to
// the default TTL otherwise.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return fmt.Errorf("workspace ID cannot be empty")
	}

	s.mu.Lock()
	var ids []string
	for id, entry := range s.entries {
		if entry.WorkspaceID == workspaceID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := s.store.DeleteDocuments(ctx, memoryCollection, ids); err != nil {
		return fmt.Errorf("removing workspace entries: %w", err)
	}

	s.logger.Info("workspace memory removed",
		zap.String("workspace_id", workspaceID), zap.Int("count", len(ids)))
	return nil
}

// Start launches the background TTL sweeper. Safe to call once; a second
// call while running is an error.
func (s *Service) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return fmt.Errorf("memory sweeper already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.sweepLoop(s.stopCh, s.doneCh)
	return nil
}

// Stop halts the background sweeper and waits for it to exit.
func (s *Service) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.running = false
}

func (s *Service) sweepLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("memory sweep failed", zap.Error(err))
			}
		}
	}
}
