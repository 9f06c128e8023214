package bhav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sadhana/internal/payload"
)

func intPtr(i int) *int { return &i }

func guidedFeatures() ChunkFeatures {
	return ChunkFeatures{
		DurationSeconds:    payload.Float(45),
		TotalFrames:        intPtr(450),
		VoicedFrames:       intPtr(320),
		VoiceRatioTotal:    payload.Float(0.71),
		PitchStability:     payload.Float(0.84),
		CadenceBPM:         payload.Float(72),
		CadenceConsistency: payload.Float(0.81),
		AvgEnergy:          payload.Float(0.5),
		SNRDB:              payload.Float(18),
	}
}

func TestNormalizeChunk(t *testing.T) {
	features, chunk := NormalizeChunk(48000, 93000, guidedFeatures())

	assert.Equal(t, 45.0, features.DurationSeconds)
	assert.Equal(t, 320, features.VoicedFrames)
	assert.Equal(t, 0.71, chunk.Metrics.VoiceRatioTotal)
	assert.Nil(t, chunk.Metrics.VoiceRatioStudent)
	// 0.6 * mean(0.71, 0.84, 0.81) + 0.4 * (18-5)/25
	assert.InDelta(t, 0.68, chunk.Confidence, 0.001)
}

func TestNormalizeChunkDefaults(t *testing.T) {
	features, chunk := NormalizeChunk(1000, 3500, ChunkFeatures{
		TotalFrames:  intPtr(100),
		VoicedFrames: intPtr(140),
	})

	assert.Equal(t, 2.5, features.DurationSeconds)
	assert.Equal(t, 100, features.VoicedFrames, "voiced frames are capped at the total")
	assert.Equal(t, 1.0, features.VoiceRatioTotal)
	assert.Equal(t, 0.5, features.PitchStability)
	assert.Equal(t, TargetCadenceBPM, features.CadenceBPM)
	assert.Equal(t, 0.5, features.CadenceConsistency)
	assert.Equal(t, 0.5, features.AvgEnergy)
	assert.Nil(t, features.SNRDB)
	assert.InDelta(t, 0.6*(2.0/3.0)+0.4*0.5, chunk.Confidence, 0.001)
}

func TestNormalizeChunkMinimumDuration(t *testing.T) {
	features, _ := NormalizeChunk(5000, 5000, ChunkFeatures{})
	assert.Equal(t, 0.1, features.DurationSeconds)
	assert.Equal(t, 0.0, features.VoiceRatioTotal)
}

func TestChunkFeaturesValidate(t *testing.T) {
	require.NoError(t, guidedFeatures().Validate())

	bad := guidedFeatures()
	bad.TotalFrames = intPtr(-1)
	bad.DurationSeconds = payload.Float(0)

	var merr *MetricsError
	require.ErrorAs(t, bad.Validate(), &merr)
	assert.Len(t, merr.Fields, 2)
}

func TestAggregateChunksWeightsByDuration(t *testing.T) {
	_, a := NormalizeChunk(0, 10000, ChunkFeatures{
		DurationSeconds:   payload.Float(10),
		CadenceBPM:        payload.Float(60),
		VoiceRatioStudent: payload.Float(0.4),
		SNRDB:             payload.Float(10),
	})
	_, b := NormalizeChunk(10000, 40000, ChunkFeatures{
		DurationSeconds: payload.Float(30),
		CadenceBPM:      payload.Float(80),
		SNRDB:           payload.Float(20),
	})

	m, info, err := AggregateChunks([]Chunk{a, b})
	require.NoError(t, err)

	assert.Equal(t, 40.0, m.DurationSeconds)
	assert.Equal(t, 75.0, m.CadenceBPM)
	require.NotNil(t, m.VoiceRatioStudent)
	assert.Equal(t, 0.4, *m.VoiceRatioStudent)
	assert.Nil(t, m.VoiceRatioGuru)

	assert.Equal(t, 2, info.ChunkCount)
	assert.Equal(t, 40.0, info.DurationTotalSeconds)
	require.NotNil(t, info.SNRMeanDB)
	assert.Equal(t, 15.0, *info.SNRMeanDB)
}

func TestAggregateChunksEmpty(t *testing.T) {
	_, _, err := AggregateChunks(nil)
	require.ErrorIs(t, err, ErrNoChunks)
}

func TestProjectionConfidence(t *testing.T) {
	_, chunk := NormalizeChunk(48000, 93000, guidedFeatures())
	m, info, err := AggregateChunks([]Chunk{chunk})
	require.NoError(t, err)

	assert.Equal(t, 1.0, Coverage(StageGuided, m))
	// 0.55 * 1 + 0.25 * 0.52 + 0.20 * mean(0.71, 0.84, 0.81)
	assert.InDelta(t, 0.837, ProjectionConfidence(StageGuided, m, info), 0.001)
}
