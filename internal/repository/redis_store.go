package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"virtual-ledger/internal/domain"
	"virtual-ledger/internal/errors"
)

const (
	stateKeyPrefix    = "state:"
	reminderKeyPrefix = "reminder:"
	reminderDueIndex  = "reminders:due"
	memberSeparator   = "\x1f"

	rescheduleAttempts = 5
)

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

type redisStateStore struct {
	client *goredis.Client
	logger *slog.Logger
}

// NewRedisStateStore stores each record as a plain string key. Redis
// acknowledges a write only after applying it, so the next Get observes it.
func NewRedisStateStore(client *goredis.Client, logger *slog.Logger) domain.StateStore {
	return &redisStateStore{client: client, logger: logger}
}

func redisStateKey(entityID, recordName string) string {
	return stateKeyPrefix + entityID + ":" + recordName
}

func (r *redisStateStore) Get(ctx context.Context, entityID, recordName string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, redisStateKey(entityID, recordName)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, false, nil
		}
		r.logger.Error("Failed to get entity state", "entity_id", entityID, "record", recordName, "error", err)
		return nil, false, errors.NewAppError(errors.Unknown, "failed to get entity state").WithDetails(err.Error())
	}
	return data, true, nil
}

func (r *redisStateStore) Set(ctx context.Context, entityID, recordName string, record []byte) error {
	if err := r.client.Set(ctx, redisStateKey(entityID, recordName), record, 0).Err(); err != nil {
		r.logger.Error("Failed to set entity state", "entity_id", entityID, "record", recordName, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to set entity state").WithDetails(err.Error())
	}
	return nil
}

func (r *redisStateStore) Clear(ctx context.Context, entityID, recordName string) error {
	if err := r.client.Del(ctx, redisStateKey(entityID, recordName)).Err(); err != nil {
		r.logger.Error("Failed to clear entity state", "entity_id", entityID, "record", recordName, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to clear entity state").WithDetails(err.Error())
	}
	return nil
}

func (r *redisStateStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type redisReminderStore struct {
	client *goredis.Client
	logger *slog.Logger
}

// NewRedisReminderStore keeps one JSON value per reminder plus a sorted set
// indexed by next fire time.
func NewRedisReminderStore(client *goredis.Client, logger *slog.Logger) domain.ReminderStore {
	return &redisReminderStore{client: client, logger: logger}
}

type redisReminder struct {
	EntityID   string `json:"entity_id"`
	Name       string `json:"name"`
	DueTimeMs  int64  `json:"due_time_ms"`
	PeriodMs   int64  `json:"period_ms"`
	NextFireAt int64  `json:"next_fire_at"`
}

func toRedisReminder(r domain.Reminder) redisReminder {
	return redisReminder{
		EntityID:   r.EntityID,
		Name:       r.Name,
		DueTimeMs:  r.DueTime.Milliseconds(),
		PeriodMs:   r.Period.Milliseconds(),
		NextFireAt: r.NextFireAt.UnixMilli(),
	}
}

func (r redisReminder) toDomain() domain.Reminder {
	return domain.Reminder{
		EntityID:   r.EntityID,
		Name:       r.Name,
		DueTime:    time.Duration(r.DueTimeMs) * time.Millisecond,
		Period:     time.Duration(r.PeriodMs) * time.Millisecond,
		NextFireAt: time.UnixMilli(r.NextFireAt).UTC(),
	}
}

func reminderMember(entityID, name string) string {
	return entityID + memberSeparator + name
}

func (r *redisReminderStore) Upsert(ctx context.Context, rem domain.Reminder) error {
	data, err := json.Marshal(toRedisReminder(rem))
	if err != nil {
		return errors.NewAppError(errors.Unknown, "failed to encode reminder").WithDetails(err.Error())
	}

	member := reminderMember(rem.EntityID, rem.Name)
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, reminderKeyPrefix+member, data, 0)
		pipe.ZAdd(ctx, reminderDueIndex, goredis.Z{Score: float64(rem.NextFireAt.UnixMilli()), Member: member})
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to upsert reminder", "entity_id", rem.EntityID, "reminder", rem.Name, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to upsert reminder").WithDetails(err.Error())
	}
	return nil
}

func (r *redisReminderStore) Get(ctx context.Context, entityID, name string) (*domain.Reminder, error) {
	return r.load(ctx, reminderMember(entityID, name))
}

func (r *redisReminderStore) load(ctx context.Context, member string) (*domain.Reminder, error) {
	data, err := r.client.Get(ctx, reminderKeyPrefix+member).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, domain.ErrReminderNotFound
		}
		r.logger.Error("Failed to get reminder", "member", member, "error", err)
		return nil, errors.NewAppError(errors.Unknown, "failed to get reminder").WithDetails(err.Error())
	}

	var stored redisReminder
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, errors.NewAppError(errors.Unknown, "failed to decode reminder").WithDetails(err.Error())
	}
	rem := stored.toDomain()
	return &rem, nil
}

func (r *redisReminderStore) Delete(ctx context.Context, entityID, name string) error {
	member := reminderMember(entityID, name)

	var del *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, reminderKeyPrefix+member)
		pipe.ZRem(ctx, reminderDueIndex, member)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete reminder", "entity_id", entityID, "reminder", name, "error", err)
		return errors.NewAppError(errors.Unknown, "failed to delete reminder").WithDetails(err.Error())
	}
	if del.Val() == 0 {
		return domain.ErrReminderNotFound
	}
	return nil
}

func (r *redisReminderStore) ListDue(ctx context.Context, now time.Time) ([]domain.Reminder, error) {
	members, err := r.client.ZRangeByScore(ctx, reminderDueIndex, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		r.logger.Error("Failed to list due reminders", "error", err)
		return nil, errors.NewAppError(errors.Unknown, "failed to list due reminders").WithDetails(err.Error())
	}

	due := make([]domain.Reminder, 0, len(members))
	for _, member := range members {
		rem, err := r.load(ctx, member)
		if err == domain.ErrReminderNotFound {
			// index entry outlived its value; drop it
			if err := r.client.ZRem(ctx, reminderDueIndex, member).Err(); err != nil {
				r.logger.Warn("Failed to drop stale reminder index entry", "member", member, "error", err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		due = append(due, *rem)
	}
	return due, nil
}

// Reschedule moves the next fire time of an existing reminder. The key is
// watched so a concurrent Delete either wins outright or makes the
// transaction retry and observe the deletion.
func (r *redisReminderStore) Reschedule(ctx context.Context, entityID, name string, next time.Time) error {
	member := reminderMember(entityID, name)
	key := reminderKeyPrefix + member

	reschedule := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == goredis.Nil {
			return domain.ErrReminderNotFound
		}
		if err != nil {
			return err
		}

		var stored redisReminder
		if err := json.Unmarshal(data, &stored); err != nil {
			return err
		}
		stored.NextFireAt = next.UnixMilli()
		updated, err := json.Marshal(stored)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.SetXX(ctx, key, updated, 0)
			pipe.ZAddXX(ctx, reminderDueIndex, goredis.Z{Score: float64(next.UnixMilli()), Member: member})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < rescheduleAttempts; attempt++ {
		err := r.client.Watch(ctx, reschedule, key)
		switch {
		case err == nil:
			return nil
		case err == domain.ErrReminderNotFound:
			return err
		case err == goredis.TxFailedErr:
			continue
		default:
			r.logger.Error("Failed to reschedule reminder", "entity_id", entityID, "reminder", name, "error", err)
			return errors.NewAppError(errors.Unknown, "failed to reschedule reminder").WithDetails(err.Error())
		}
	}
	return errors.NewAppError(errors.Unknown, "failed to reschedule reminder").
		WithDetails(fmt.Sprintf("key kept changing after %d attempts", rescheduleAttempts))
}
