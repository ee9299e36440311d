package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "job:"

// RedisStore はジョブレコードを Redis に保存します。
// 複数プロセスでAPIとワーカーを分けて動かす構成で使用します。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewRedisStore は RedisStore を作成します。ttl が 0 の場合、レコードは失効しません。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
		now: time.Now,
	}
}

// Create は新しいジョブレコードを作成し、IDを割り当てます。
func (s *RedisStore) Create(ctx context.Context, filename string, fileSize int64) (*Record, error) {
	record := newRecord(uuid.NewString(), filename, fileSize, s.now().UTC())
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, jobKey(record.ID), payload, s.ttl).Err(); err != nil {
		return nil, err
	}
	return record, nil
}

// Get はジョブレコードを取得します。存在しない場合は (nil, nil) です。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

const maxUpdateRetries = 10

// Update はレコードを読み出して mutate を適用し、書き戻します。
// WATCH による楽観ロックで、読み出しから書き込みまでをアトミックに保ちます。
func (s *RedisStore) Update(ctx context.Context, jobID string, mutate func(*Record)) (*Record, error) {
	key := jobKey(jobID)
	var updated *Record

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			mutate(&record)
			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttl)
				return nil
			})
			if err == nil {
				updated = &record
			}
			return err
		}, key)

		switch {
		case err == nil:
			return updated, nil
		case err == redis.Nil:
			return nil, nil
		case err == redis.TxFailedErr:
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("job update kept conflicting: %s", jobID)
}

// List は全ジョブレコードを返します。管理用途向けで、SCAN で順に辿ります。
func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	records := make([]*Record, 0)
	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
