package jobs

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store はジョブレコードのリポジトリです。
// Get / Update は対象ジョブが存在しない場合に (nil, nil) を返します。
// Update の mutate は対象レコードに対してアトミックに適用されます。
type Store interface {
	Create(ctx context.Context, filename string, fileSize int64) (*Record, error)
	Get(ctx context.Context, jobID string) (*Record, error)
	Update(ctx context.Context, jobID string, mutate func(*Record)) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
}

const shardCount = 16

type shard struct {
	mu   sync.RWMutex
	jobs map[string]*Record
}

// MemoryStore はプロセス内メモリ上のジョブレコードリポジトリです。
// シャード単位のロックなので、別ジョブ同士の読み書きは互いをブロックしません。
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{jobs: make(map[string]*Record)}
	}
	return s
}

func (s *MemoryStore) shardFor(jobID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return s.shards[h.Sum32()%shardCount]
}

// Create は新しいジョブレコードを作成し、IDを割り当てます。
func (s *MemoryStore) Create(_ context.Context, filename string, fileSize int64) (*Record, error) {
	record := newRecord(uuid.NewString(), filename, fileSize, s.now().UTC())
	sh := s.shardFor(record.ID)
	sh.mu.Lock()
	sh.jobs[record.ID] = record
	sh.mu.Unlock()
	return record.Clone(), nil
}

// Get はジョブレコードのコピーを返します。存在しない場合は (nil, nil) です。
func (s *MemoryStore) Get(_ context.Context, jobID string) (*Record, error) {
	sh := s.shardFor(jobID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.jobs[jobID].Clone(), nil
}

// Update は mutate を適用し、更新後のコピーを返します。
// 読み手が途中状態を観測しないよう、レコードの差し替えはロック内で行います。
func (s *MemoryStore) Update(_ context.Context, jobID string, mutate func(*Record)) (*Record, error) {
	sh := s.shardFor(jobID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	record, ok := sh.jobs[jobID]
	if !ok {
		return nil, nil
	}
	updated := record.Clone()
	mutate(updated)
	sh.jobs[jobID] = updated
	return updated.Clone(), nil
}

// List は全ジョブレコードのコピーを返します。管理用途向けです。
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	records := make([]*Record, 0)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, record := range sh.jobs {
			records = append(records, record.Clone())
		}
		sh.mu.RUnlock()
	}
	return records, nil
}

func newRecord(id, filename string, fileSize int64, startedAt time.Time) *Record {
	return &Record{
		ID:           id,
		Filename:     filename,
		FileSize:     fileSize,
		Status:       StatusPending,
		Progress:     0,
		CurrentStage: StageParsing,
		Logs:         []LogEntry{},
		StartedAt:    startedAt,
	}
}
