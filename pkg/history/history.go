// Package history keeps the most recent questions and a prefix of their
// answers in a Redis list.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medtext/medrag/engine/domain"
)

const (
	DefaultKey    = "medrag:history"
	DefaultLimit  = 5
	AnswerPreview = 200
)

// Entry is one answered question.
type Entry struct {
	Question string              `json:"question"`
	Answer   string              `json:"answer"`
	Status   domain.AnswerStatus `json:"status"`
	AskedAt  time.Time           `json:"asked_at"`
}

type lists interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Log is a capped list of entries, newest first.
type Log struct {
	rdb    lists
	key    string
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Log over rdb. limit <= 0 uses DefaultLimit.
func New(rdb lists, key string, limit int, logger *slog.Logger) *Log {
	if key == "" {
		key = DefaultKey
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{rdb: rdb, key: key, limit: limit, now: time.Now, logger: logger}
}

// Dial parses a redis:// URL and pings the server.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, domain.NewConfigError("REDIS_URL", "%v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, domain.WrapService("redis", "ping", err)
	}
	return rdb, nil
}

// Record pushes an entry and trims the list to the limit.
func (l *Log) Record(ctx context.Context, question string, answer domain.Answer) error {
	data, err := json.Marshal(Entry{
		Question: question,
		Answer:   preview(answer.Content, AnswerPreview),
		Status:   answer.Status,
		AskedAt:  l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	if err := l.rdb.LPush(ctx, l.key, data).Err(); err != nil {
		return domain.WrapService("redis", "history push", err)
	}
	if err := l.rdb.LTrim(ctx, l.key, 0, int64(l.limit-1)).Err(); err != nil {
		return domain.WrapService("redis", "history trim", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Undecodable entries are
// skipped.
func (l *Log) Recent(ctx context.Context) ([]Entry, error) {
	raw, err := l.rdb.LRange(ctx, l.key, 0, int64(l.limit-1)).Result()
	if err != nil {
		return nil, domain.WrapService("redis", "history range", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			l.logger.Warn("skipping corrupt history entry", "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
