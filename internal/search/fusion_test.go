package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMinMaxFuser(t *testing.T) *Fuser {
	t.Helper()
	f, err := NewFuser(DefaultFusionConfig())
	require.NoError(t, err)
	return f
}

func TestFusionConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultFusionConfig().Validate())

	bad := DefaultFusionConfig()
	bad.Strategy = "magic"
	assert.Error(t, bad.Validate())

	bad = DefaultFusionConfig()
	bad.LexicalWeight = -1
	assert.Error(t, bad.Validate())

	bad = DefaultFusionConfig()
	bad.LexicalWeight = 0
	bad.VectorWeight = 0
	assert.Error(t, bad.Validate())

	bad = DefaultFusionConfig()
	bad.Strategy = StrategyRRF
	bad.RRFK = 0
	assert.Error(t, bad.Validate())
}

func TestFuse_TopInBothSignalsRanksFirst(t *testing.T) {
	f := newMinMaxFuser(t)

	lex := []Candidate{
		{ChunkID: "winner", Score: 8.2},
		{ChunkID: "lex-only", Score: 4.1},
		{ChunkID: "weak", Score: 1.0},
	}
	vec := []Candidate{
		{ChunkID: "winner", Score: 0.93},
		{ChunkID: "vec-only", Score: 0.71},
		{ChunkID: "weak", Score: 0.40},
	}

	fused := f.Fuse(lex, vec, 10)
	require.NotEmpty(t, fused)
	assert.Equal(t, "winner", fused[0].ChunkID)
	assert.True(t, fused[0].InBothLists)
	assert.Equal(t, 1, fused[0].LexRank)
	assert.Equal(t, 1, fused[0].VecRank)
}

func TestFuse_AgreementSumsContributions(t *testing.T) {
	f := newMinMaxFuser(t)

	lex := []Candidate{
		{ChunkID: "both", Score: 10},
		{ChunkID: "floor", Score: 0},
	}
	vec := []Candidate{
		{ChunkID: "both", Score: 1},
		{ChunkID: "floor", Score: 0},
	}

	fused := f.Fuse(lex, vec, 10)
	require.Len(t, fused, 2)
	// Top of both signals normalizes to 1 each side, weighted 0.5+0.5.
	assert.Equal(t, "both", fused[0].ChunkID)
	assert.InDelta(t, 1.0, fused[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.0, fused[1].FusedScore, 1e-9)
}

func TestFuse_SingleSignalStillParticipates(t *testing.T) {
	f := newMinMaxFuser(t)

	lex := []Candidate{
		{ChunkID: "a", Score: 3.0},
		{ChunkID: "b", Score: 1.5},
	}

	fused := f.Fuse(lex, nil, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.False(t, fused[0].InBothLists)
	assert.Zero(t, fused[0].VecRank)
}

func TestFuse_EmptyInputsYieldEmpty(t *testing.T) {
	f := newMinMaxFuser(t)
	assert.Empty(t, f.Fuse(nil, nil, 10))
}

func TestFuse_TruncatesToTopK(t *testing.T) {
	f := newMinMaxFuser(t)

	lex := []Candidate{
		{ChunkID: "a", Score: 5},
		{ChunkID: "b", Score: 4},
		{ChunkID: "c", Score: 3},
		{ChunkID: "d", Score: 2},
	}
	fused := f.Fuse(lex, nil, 2)
	assert.Len(t, fused, 2)
}

func TestFuse_TieBrokenByChunkID(t *testing.T) {
	f := newMinMaxFuser(t)

	lex := []Candidate{
		{ChunkID: "zz", Score: 1},
		{ChunkID: "aa", Score: 1},
	}
	fused := f.Fuse(lex, nil, 10)
	require.Len(t, fused, 2)
	assert.Equal(t, "aa", fused[0].ChunkID)
}

func TestFuse_CrossSignalTieBrokenByChunkID(t *testing.T) {
	f := newMinMaxFuser(t)

	// Sole candidates normalize to 1 on their own signal, so with equal
	// weights both fuse to exactly 0.5; the signal of origin must not
	// influence the order.
	lex := []Candidate{{ChunkID: "b", Score: 7.0}}
	vec := []Candidate{{ChunkID: "a", Score: 0.9}}

	fused := f.Fuse(lex, vec, 10)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].FusedScore, fused[1].FusedScore, 1e-12)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, "b", fused[1].ChunkID)
}

func TestFuse_RRFRewardsAgreement(t *testing.T) {
	cfg := DefaultFusionConfig()
	cfg.Strategy = StrategyRRF
	f, err := NewFuser(cfg)
	require.NoError(t, err)

	lex := []Candidate{
		{ChunkID: "both", Score: 5},
		{ChunkID: "lex-top", Score: 9},
	}
	vec := []Candidate{
		{ChunkID: "both", Score: 0.9},
		{ChunkID: "vec-top", Score: 0.8},
	}

	fused := f.Fuse(lex, vec, 10)
	require.Len(t, fused, 3)
	assert.Equal(t, "both", fused[0].ChunkID)
	// Normalized to [0,1].
	assert.InDelta(t, 1.0, fused[0].FusedScore, 1e-9)
	for _, r := range fused {
		assert.GreaterOrEqual(t, r.FusedScore, 0.0)
		assert.LessOrEqual(t, r.FusedScore, 1.0)
	}
}

func TestFuse_EqualScoresNormalizeToOne(t *testing.T) {
	f := newMinMaxFuser(t)

	lex := []Candidate{
		{ChunkID: "a", Score: 2.5},
		{ChunkID: "b", Score: 2.5},
	}
	fused := f.Fuse(lex, nil, 10)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].FusedScore, fused[1].FusedScore, 1e-12)
}
