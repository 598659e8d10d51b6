package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenloop/attune/ai/metrics"
)

// fakeProvider records every call and derives deterministic vectors from the
// input text.
type fakeProvider struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
	model string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{model: "fake-embed-v1"}
}

func (p *fakeProvider) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		return nil, p.fail
	}

	recorded := make([]string, len(texts))
	copy(recorded, texts)
	p.calls = append(p.calls, recorded)

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = vectorFor(text)
	}
	return vectors, nil
}

func (p *fakeProvider) Model() string { return p.model }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) lastCall() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return nil
	}
	return p.calls[len(p.calls)-1]
}

func vectorFor(text string) []float32 {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r)
	}
	return vec
}

func newTestService(p Provider) Service {
	// Sweeper disabled; expiry is exercised via direct TTL.
	return NewService(p, ServiceConfig{SweepInterval: -1})
}

func TestEmbed_RejectsEmptyInput(t *testing.T) {
	svc := newTestService(newFakeProvider())
	defer svc.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Embed(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyInput, "input %q", text)
	}
}

func TestEmbed_CacheDeterminism(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider)
	defer svc.Close()

	first, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	second, err := svc.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	// Cache stores direct references, not copies.
	assert.Same(t, &first[0], &second[0], "second call must return the cached vector")
	assert.Equal(t, 1, provider.callCount(), "second call must not hit the provider")

	stats := svc.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestEmbedBatch_OrderingWithCachedEntries(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider)
	defer svc.Close()

	ctx := context.Background()

	// Pre-cache a and c.
	_, err := svc.Embed(ctx, "a")
	require.NoError(t, err)
	_, err = svc.Embed(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, 2, provider.callCount())

	results, err := svc.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Exactly one more provider call, containing only the miss.
	assert.Equal(t, 3, provider.callCount())
	assert.Equal(t, []string{"b"}, provider.lastCall())

	// Result order matches input order, cached and fresh interleaved.
	assert.Equal(t, vectorFor("a"), results[0])
	assert.Equal(t, vectorFor("b"), results[1])
	assert.Equal(t, vectorFor("c"), results[2])
}

func TestEmbedBatch_AllCachedSkipsProvider(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider)
	defer svc.Close()

	ctx := context.Background()
	_, err := svc.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)
	calls := provider.callCount()

	results, err := svc.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, calls, provider.callCount(), "fully cached batch must not call the provider")
	assert.Equal(t, vectorFor("x"), results[0])
	assert.Equal(t, vectorFor("y"), results[1])
}

func TestEmbedBatch_RejectsEmptyElement(t *testing.T) {
	svc := newTestService(newFakeProvider())
	defer svc.Close()

	_, err := svc.EmbedBatch(context.Background(), []string{"ok", "  "})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbed_ProviderFailureNotCached(t *testing.T) {
	provider := newFakeProvider()
	provider.fail = errors.New("upstream down")
	svc := newTestService(provider)
	defer svc.Close()

	_, err := svc.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorContains(t, err, "upstream down")

	// Recovery: once the provider works, the text embeds normally.
	provider.fail = nil
	vec, err := svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, vectorFor("hello"), vec)
}

func TestCacheStats_EmptyDenominator(t *testing.T) {
	svc := newTestService(newFakeProvider())
	defer svc.Close()

	stats := svc.CacheStats()
	assert.Zero(t, stats.HitRate)
	assert.Zero(t, stats.Keys)
}

func TestClearCache(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(provider)
	defer svc.Close()

	_, err := svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, 1, svc.CacheStats().Keys)

	svc.ClearCache()

	stats := svc.CacheStats()
	assert.Zero(t, stats.Keys)
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)

	// Next embed is a miss again.
	_, err = svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
}

func TestEmbed_TTLExpiry(t *testing.T) {
	provider := newFakeProvider()
	svc := NewService(provider, ServiceConfig{CacheTTL: 15 * time.Millisecond, SweepInterval: -1})
	defer svc.Close()

	_, err := svc.Embed(context.Background(), "ephemeral")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = svc.Embed(context.Background(), "ephemeral")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "expired entry must be recomputed")
}

func counterValue(t *testing.T, exporter *metrics.PrometheusExporter, name, label string) float64 {
	t.Helper()
	families, err := exporter.GetRegistry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "cache_type" && pair.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEmbed_ExportsCacheCounters(t *testing.T) {
	provider := newFakeProvider()
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	svc := NewService(provider, ServiceConfig{SweepInterval: -1, Exporter: exporter})
	defer svc.Close()

	_, err := svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = svc.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = svc.Embed(context.Background(), "world")
	require.NoError(t, err)

	assert.InDelta(t, 1, counterValue(t, exporter, "attune_embedding_cache_hits_total", "embedding"), 1e-9)
	assert.InDelta(t, 2, counterValue(t, exporter, "attune_embedding_cache_misses_total", "embedding"), 1e-9)
}
