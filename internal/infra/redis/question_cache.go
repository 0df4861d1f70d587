package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"quiz-attempt-service/internal/domain"
)

// QuestionLoader fetches the question list from a backing store (file, database).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionCache keeps the question bank as one JSON string in Redis and falls
// back to the loader on a miss:
//
//	SET quiz:bank:{bankID} {json} EX ttl
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	bankID string
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader QuestionLoader, bankID string, ttl time.Duration, log zerolog.Logger) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		bankID: bankID,
		ttl:    ttl,
		log:    log.With().Str("component", "question_cache").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	if questions, ok := c.cached(ctx); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(c.bankID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := c.cached(ctx); ok {
			return questions, nil
		}

		questions, err := c.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateBank(questions); err != nil {
			return nil, err
		}

		raw, err := json.Marshal(questions)
		if err != nil {
			return nil, fmt.Errorf("marshal question bank: %w", err)
		}
		if err := c.client.Set(ctx, c.key(), raw, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn().Err(err).Msg("cache question bank")
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) cached(ctx context.Context) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, c.key()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("read cached question bank")
		}
		return nil, false
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		c.log.Warn().Err(err).Msg("decode cached question bank")
		return nil, false
	}
	return questions, true
}

func (c *QuestionCache) key() string {
	return "quiz:bank:" + c.bankID
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
