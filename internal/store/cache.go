// internal/store/cache.go
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/models"
	"loan-engine/internal/scoring"

	"github.com/redis/go-redis/v9"
)

// MatrixCache caches risk matrix results in redis. The scoring engine is
// deterministic, so a digest of the facts fully identifies a result.
type MatrixCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewMatrixCache(client *redis.Client, ttl time.Duration, log logger.Logger) *MatrixCache {
	return &MatrixCache{
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "matrix-cache"}),
	}
}

// Key derives the cache key from the facts content.
func (c *MatrixCache) Key(facts *models.FinancialFacts) string {
	data, err := json.Marshal(facts)
	if err != nil {
		data = []byte("{}")
	}
	sum := sha256.Sum256(data)
	return "riskmatrix:" + hex.EncodeToString(sum[:16])
}

// Get returns a cached matrix, or false when absent or unreadable.
func (c *MatrixCache) Get(ctx context.Context, facts *models.FinancialFacts) (scoring.RiskMatrix, bool) {
	var matrix scoring.RiskMatrix

	data, err := c.client.Get(ctx, c.Key(facts)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return matrix, false
	}
	if err := json.Unmarshal(data, &matrix); err != nil {
		c.logger.Warn("cache entry corrupt", map[string]interface{}{"error": err.Error()})
		return matrix, false
	}
	return matrix, true
}

// Put stores a matrix with the configured TTL. Best effort.
func (c *MatrixCache) Put(ctx context.Context, facts *models.FinancialFacts, matrix scoring.RiskMatrix) {
	data, err := json.Marshal(matrix)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.Key(facts), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

// ComputeOrCached returns the risk matrix for the facts, consulting the
// cache first. A nil receiver computes directly.
func (c *MatrixCache) ComputeOrCached(ctx context.Context, facts *models.FinancialFacts) scoring.RiskMatrix {
	if c == nil || c.client == nil {
		return scoring.ComputeRiskMatrix(facts)
	}
	if matrix, ok := c.Get(ctx, facts); ok {
		return matrix
	}
	matrix := scoring.ComputeRiskMatrix(facts)
	c.Put(ctx, facts, matrix)
	return matrix
}
