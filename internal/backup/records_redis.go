package backup

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRecordStore keeps each record as JSON under <prefix>:<id>, with a set
// of ids per instance and one set of all ids.
type RedisRecordStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRecordStore connects to the Redis server at config.URL
func NewRedisRecordStore(ctx context.Context, config *RedisConfig) (*RedisRecordStore, error) {
	if config == nil || config.URL == "" {
		return nil, NewValidationError("redis URL is required", nil)
	}

	opt, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, NewConfigurationError("invalid redis URL", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, NewStorageError(fmt.Sprintf("failed to connect to redis at %s", opt.Addr), err)
	}

	return NewRedisRecordStoreWithClient(rdb, config.KeyPrefix), nil
}

// NewRedisRecordStoreWithClient wraps an existing client
func NewRedisRecordStoreWithClient(rdb redis.UniversalClient, prefix string) *RedisRecordStore {
	if prefix == "" {
		prefix = "backup"
	}
	return &RedisRecordStore{rdb: rdb, prefix: prefix}
}

func (s *RedisRecordStore) recordKey(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisRecordStore) instanceKey(instanceID string) string {
	return s.prefix + ":instance:" + instanceID
}

func (s *RedisRecordStore) allKey() string {
	return s.prefix + ":all"
}

func (s *RedisRecordStore) Find(ctx context.Context, id string) (*BackupRecord, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, NewRecordNotFoundError(id)
	}
	if err != nil {
		return nil, NewStorageError("failed to load backup record", err).WithContext("backup_id", id)
	}

	record := &BackupRecord{}
	if err := record.FromJSON(data); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *RedisRecordStore) Save(ctx context.Context, record *BackupRecord) error {
	if record == nil {
		return NewValidationError("record cannot be nil", nil)
	}
	if err := record.Validate(); err != nil {
		return NewValidationError("invalid backup record", err)
	}

	data, err := record.ToJSON()
	if err != nil {
		return NewStorageError("failed to serialize backup record", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.ID), data, 0)
		pipe.SAdd(ctx, s.instanceKey(record.InstanceID), record.ID)
		pipe.SAdd(ctx, s.allKey(), record.ID)
		return nil
	})
	if err != nil {
		return NewStorageError("failed to save backup record", err).WithContext("backup_id", record.ID)
	}
	return nil
}

func (s *RedisRecordStore) List(ctx context.Context, instanceID string) ([]*BackupRecord, error) {
	index := s.allKey()
	if instanceID != "" {
		index = s.instanceKey(instanceID)
	}

	ids, err := s.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return nil, NewStorageError("failed to list backup records", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, NewStorageError("failed to load backup records", err)
	}

	records := make([]*BackupRecord, 0, len(values))
	for _, v := range values {
		// MGet yields nil for ids whose record is gone
		data, ok := v.(string)
		if !ok {
			continue
		}
		record := &BackupRecord{}
		if err := record.FromJSON([]byte(data)); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sortRecords(records)
	return records, nil
}

func (s *RedisRecordStore) Close() error {
	return s.rdb.Close()
}
