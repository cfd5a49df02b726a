package submission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
)

const scanCount = 100

// RedisStore keeps pending sheets as hashes under pending_sheet:<exam id>.
type RedisStore struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisStore(rdb *redis.Client, log zerolog.Logger) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		log: log.With().Str("component", "pending_redis_store").Logger(),
	}
}

func (s *RedisStore) Save(ctx context.Context, sheet model.PendingSheet) error {
	if err := checkExamID(sheet.ExamID); err != nil {
		return err
	}
	savedAt := sheet.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	key := config.CacheKey.PendingSheetKey(sheet.ExamID)

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		"exam_id", sheet.ExamID,
		"body", string(Encode(sheet.Rows)),
		"saved_at", savedAt.UnixNano(),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.New(apperr.ErrPersistence, "save pending sheet", err)
	}

	s.log.Info().Str("exam_id", sheet.ExamID).Str("key", key).Msg("Answer sheet backed up")
	return nil
}

func (s *RedisStore) Oldest(ctx context.Context) (*model.PendingSheet, error) {
	sheets, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return oldestOf(sheets), nil
}

func (s *RedisStore) List(ctx context.Context) ([]model.PendingSheet, error) {
	var sheets []model.PendingSheet

	iter := s.rdb.Scan(ctx, 0, config.CacheKey.PendingSheetPattern(), scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "list pending sheets", err)
		}
		sheet, err := parseHash(fields)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable backup")
			continue
		}
		sheets = append(sheets, sheet)
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.New(apperr.ErrPersistence, "list pending sheets", err)
	}

	sortPending(sheets)
	return sheets, nil
}

func parseHash(fields map[string]string) (model.PendingSheet, error) {
	examID := fields["exam_id"]
	if examID == "" {
		return model.PendingSheet{}, fmt.Errorf("missing exam_id")
	}
	rows, err := Decode([]byte(fields["body"]))
	if err != nil {
		return model.PendingSheet{}, err
	}
	nanos, err := strconv.ParseInt(fields["saved_at"], 10, 64)
	if err != nil {
		return model.PendingSheet{}, fmt.Errorf("parse saved_at: %w", err)
	}
	return model.PendingSheet{ExamID: examID, Rows: rows, SavedAt: time.Unix(0, nanos)}, nil
}

func (s *RedisStore) Delete(ctx context.Context, examID string) error {
	if err := s.rdb.Del(ctx, config.CacheKey.PendingSheetKey(examID)).Err(); err != nil {
		return apperr.New(apperr.ErrPersistence, "delete pending sheet", err)
	}
	return nil
}
