package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashProviderDeterministic(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(0)
	assert.Equal(t, 384, p.Dimension())

	a, err := p.EmbedQuery(ctx, "increase signups for the beta program")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "increase signups for the beta program")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashProviderNormalized(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(128)

	vec, err := p.EmbedQuery(ctx, "write launch announcement blog post")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashProviderSimilarityOrdering(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(0)

	goal, err := p.EmbedQuery(ctx, "publish weekly engineering newsletter with release notes")
	require.NoError(t, err)
	related, err := p.EmbedQuery(ctx, "weekly engineering newsletter draft covering release notes")
	require.NoError(t, err)
	unrelated, err := p.EmbedQuery(ctx, "optimize database index fragmentation on cold storage")
	require.NoError(t, err)

	assert.Greater(t, cosine(goal, related), cosine(goal, unrelated))
	assert.Greater(t, cosine(goal, related), 0.5)
}

func TestHashProviderEmptyInput(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(0)

	_, err := p.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashProviderBatch(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(64)

	got, err := p.EmbedDocuments(ctx, []string{"alpha beta", "gamma delta"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 64)
}

func TestNewProviderFactory(t *testing.T) {
	p, err := NewProvider(Config{Provider: "hash"})
	require.NoError(t, err)
	assert.Equal(t, 384, p.Dimension())
	require.NoError(t, p.Close())

	_, err = NewProvider(Config{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
