package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/havenloop/attune/ai/cache"
	"github.com/havenloop/attune/ai/metrics"
)

// cacheMetricLabel tags this service's hits and misses on the shared exporter.
const cacheMetricLabel = "embedding"

// ErrEmptyInput is returned when an empty or whitespace-only text is
// submitted for embedding. Never retried.
var ErrEmptyInput = errors.New("embedding input text is empty")

const (
	// DefaultCacheTTL is how long a cached vector stays valid.
	DefaultCacheTTL = 3600 * time.Second

	// DefaultCacheCapacity bounds the cache entry count under the TTL.
	DefaultCacheCapacity = 10000

	// DefaultSweepInterval is the background expiry sweep period.
	DefaultSweepInterval = 600 * time.Second

	// slowEmbeddingThreshold triggers a non-fatal latency warning, scaled by
	// batch size for batch calls.
	slowEmbeddingThreshold = 200 * time.Millisecond
)

// Service is the cached vector embedding service interface.
type Service interface {
	// Embed generates a vector for a single text.
	// Returned vectors are shared with the cache and must be treated as
	// read-only by callers.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts. Result order exactly
	// matches input order, with cached and freshly computed entries
	// interleaved.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model identifier.
	Model() string

	// ClearCache drops all cached vectors.
	ClearCache()

	// CacheStats returns current cache statistics.
	CacheStats() CacheStats

	// Close stops background cache maintenance.
	Close()
}

// CacheStats represents embedding cache statistics.
type CacheStats struct {
	Keys    int     `json:"keys"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// ServiceConfig configures the cached embedding service.
type ServiceConfig struct {
	CacheTTL      time.Duration // default: 1h
	CacheCapacity int           // default: 10000
	SweepInterval time.Duration // default: 10min; <0 disables the sweeper

	// Exporter, when set, also counts cache hits and misses on the shared
	// Prometheus exporter under the "embedding" cache type.
	Exporter *metrics.PrometheusExporter
}

type service struct {
	provider Provider
	cache    *cache.VectorLRUCache
	ttl      time.Duration
	exporter *metrics.PrometheusExporter

	hitCount  int64
	missCount int64
	statsMu   sync.Mutex

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewService creates a cached embedding service around the given provider.
func NewService(provider Provider, cfg ServiceConfig) Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}

	s := &service{
		provider:  provider,
		cache:     cache.NewVectorLRUCache(cfg.CacheCapacity, cfg.CacheTTL),
		ttl:       cfg.CacheTTL,
		exporter:  cfg.Exporter,
		sweepStop: make(chan struct{}),
	}

	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = DefaultSweepInterval
	}
	if sweep > 0 {
		go s.sweepLoop(sweep)
	}

	return s
}

func (s *service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	key := s.cacheKey(text)
	if vec, ok := s.cache.Get(key); ok {
		s.recordHit()
		return vec, nil
	}
	s.recordMiss()

	start := time.Now()
	vectors, err := s.provider.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding provider call failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}

	if elapsed := time.Since(start); elapsed > slowEmbeddingThreshold {
		slog.Warn("slow embedding generation",
			"latency_ms", elapsed.Milliseconds(),
			"model", s.provider.Model(),
			"text_length", len(text))
	}

	s.cache.Set(key, vectors[0], s.ttl)
	return vectors[0], nil
}

func (s *service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("text at index %d: %w", i, ErrEmptyInput)
		}
	}

	results := make([][]float32, len(texts))

	// Serve cached entries and collect the misses, keeping their original
	// positions so the merged result matches input order.
	var missTexts []string
	var missIndexes []int
	for i, text := range texts {
		if vec, ok := s.cache.Get(s.cacheKey(text)); ok {
			s.recordHit()
			results[i] = vec
			continue
		}
		s.recordMiss()
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	start := time.Now()
	vectors, err := s.provider.CreateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("embedding provider call failed: %w", err)
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedding result size mismatch: expected %d, got %d", len(missTexts), len(vectors))
	}

	if elapsed := time.Since(start); elapsed > slowEmbeddingThreshold*time.Duration(len(missTexts)) {
		slog.Warn("slow batch embedding generation",
			"latency_ms", elapsed.Milliseconds(),
			"batch_size", len(missTexts),
			"model", s.provider.Model())
	}

	for j, vec := range vectors {
		i := missIndexes[j]
		results[i] = vec
		s.cache.Set(s.cacheKey(texts[i]), vec, s.ttl)
	}

	return results, nil
}

func (s *service) Model() string {
	return s.provider.Model()
}

func (s *service) ClearCache() {
	s.cache.Clear()
	s.statsMu.Lock()
	s.hitCount = 0
	s.missCount = 0
	s.statsMu.Unlock()
}

func (s *service) CacheStats() CacheStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	total := s.hitCount + s.missCount
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.hitCount) / float64(total)
	}

	return CacheStats{
		Keys:    s.cache.Size(),
		Hits:    s.hitCount,
		Misses:  s.missCount,
		HitRate: hitRate,
	}
}

// Close stops the background expiry sweeper.
func (s *service) Close() {
	s.sweepOnce.Do(func() { close(s.sweepStop) })
}

func (s *service) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.cache.CleanupExpired(); removed > 0 {
				slog.Debug("embedding cache sweep", "removed", removed, "remaining", s.cache.Size())
			}
		case <-s.sweepStop:
			return
		}
	}
}

// cacheKey creates a stable hash key from model and text.
// SHA256 for minimal collision probability.
func (s *service) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(s.provider.Model() + "\x00" + text))
	return hex.EncodeToString(hash[:16])
}

func (s *service) recordHit() {
	s.statsMu.Lock()
	s.hitCount++
	s.statsMu.Unlock()
	if s.exporter != nil {
		s.exporter.RecordCacheHit(cacheMetricLabel)
	}
}

func (s *service) recordMiss() {
	s.statsMu.Lock()
	s.missCount++
	s.statsMu.Unlock()
	if s.exporter != nil {
		s.exporter.RecordCacheMiss(cacheMetricLabel)
	}
}
