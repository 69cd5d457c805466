package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtext/medrag/engine/domain"
)

func rec(id, book string, page int, text string, v ...float32) domain.VectorRecord {
	return domain.VectorRecord{
		ID:     id,
		Values: v,
		Metadata: domain.ChunkMetadata{
			Book:      book,
			Page:      page,
			Paragraph: 1,
			Text:      text,
		},
	}
}

// runIndexContract exercises the behaviour every backend must share. The
// index must be empty or absent on entry.
func runIndexContract(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, idx.EnsureIndex(ctx, 4, MetricCosine))
	require.NoError(t, idx.EnsureIndex(ctx, 4, MetricCosine), "EnsureIndex must be idempotent")

	populated, err := IsPopulated(ctx, idx)
	require.NoError(t, err)
	assert.False(t, populated)

	require.NoError(t, idx.Upsert(ctx, []domain.VectorRecord{
		rec("Anatomy_page1_para1_chunk0", "Anatomy", 1, "brachial plexus", 1, 0, 0, 0),
		rec("Anatomy_page2_para1_chunk1", "Anatomy", 2, "femoral nerve", 0, 1, 0, 0),
		rec("Pharma_page9_para1_chunk0", "Pharma", 9, "beta blockers", 0.9, 0.1, 0, 0),
	}))

	populated, err = IsPopulated(ctx, idx)
	require.NoError(t, err)
	assert.True(t, populated)

	// same id replaces
	require.NoError(t, idx.Upsert(ctx, []domain.VectorRecord{
		rec("Pharma_page9_para1_chunk0", "Pharma", 9, "beta blockers revised", 0.9, 0.1, 0, 0),
	}))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalVectorCount)

	docs, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Anatomy_page1_para1_chunk0", docs[0].ID)
	assert.Equal(t, "Pharma_page9_para1_chunk0", docs[1].ID)
	assert.Equal(t, "beta blockers revised", docs[1].Text)
	assert.Equal(t, 9, docs[1].Page)
	assert.GreaterOrEqual(t, docs[0].Score, docs[1].Score)

	require.NoError(t, idx.DeleteBook(ctx, "Anatomy"))
	stats, err = idx.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TotalVectorCount)

	require.NoError(t, idx.DeleteAll(ctx))
	populated, err = IsPopulated(ctx, idx)
	require.NoError(t, err)
	assert.False(t, populated)
}
