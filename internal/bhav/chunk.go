package bhav

import (
	"errors"
	"math"
)

// ErrNoChunks is returned when aggregating an empty chunk set.
var ErrNoChunks = errors.New("no audio chunks to aggregate")

// ChunkFeatures are the client-computed features of one audio chunk.
// Every field is optional.
type ChunkFeatures struct {
	DurationSeconds    *float64 `json:"duration_seconds,omitempty" validate:"omitempty,gt=0,lte=1800"`
	TotalFrames        *int     `json:"total_frames,omitempty" validate:"omitempty,gte=0"`
	VoicedFrames       *int     `json:"voiced_frames,omitempty" validate:"omitempty,gte=0"`
	SNRDB              *float64 `json:"snr_db,omitempty"`
	VoiceRatioTotal    *float64 `json:"voice_ratio_total,omitempty"`
	VoiceRatioStudent  *float64 `json:"voice_ratio_student,omitempty"`
	VoiceRatioGuru     *float64 `json:"voice_ratio_guru,omitempty"`
	PitchStability     *float64 `json:"pitch_stability,omitempty"`
	CadenceBPM         *float64 `json:"cadence_bpm,omitempty" validate:"omitempty,gt=0"`
	CadenceConsistency *float64 `json:"cadence_consistency,omitempty"`
	AvgEnergy          *float64 `json:"avg_energy,omitempty"`
}

// Validate rejects structurally impossible features. Ratios are clamped
// during normalisation rather than rejected.
func (f ChunkFeatures) Validate() error {
	return validateStruct(f)
}

// NormalizedFeatures is the stored form of a chunk's features.
type NormalizedFeatures struct {
	DurationSeconds    float64  `json:"duration_seconds"`
	TotalFrames        int      `json:"total_frames"`
	VoicedFrames       int      `json:"voiced_frames"`
	SNRDB              *float64 `json:"snr_db"`
	VoiceRatioTotal    float64  `json:"voice_ratio_total"`
	VoiceRatioStudent  *float64 `json:"voice_ratio_student"`
	VoiceRatioGuru     *float64 `json:"voice_ratio_guru"`
	PitchStability     float64  `json:"pitch_stability"`
	CadenceBPM         float64  `json:"cadence_bpm"`
	CadenceConsistency float64  `json:"cadence_consistency"`
	AvgEnergy          float64  `json:"avg_energy"`
}

// Chunk is a normalised chunk: its stage metrics, the SNR it was recorded
// with and its own confidence.
type Chunk struct {
	Metrics    StageMetrics
	SNRDB      *float64
	Confidence float64
}

// NormalizeChunk derives metrics and confidence from raw features. The
// duration falls back to the chunk window and never drops below 0.1s.
func NormalizeChunk(tStartMS, tEndMS int64, f ChunkFeatures) (NormalizedFeatures, Chunk) {
	duration := max(0.1, float64(tEndMS-tStartMS)/1000)
	if f.DurationSeconds != nil {
		duration = *f.DurationSeconds
	}
	total := derefInt(f.TotalFrames)
	voiced := derefInt(f.VoicedFrames)
	if total > 0 {
		voiced = min(voiced, total)
	}

	voiceRatio := 0.0
	switch {
	case f.VoiceRatioTotal != nil:
		voiceRatio = *f.VoiceRatioTotal
	case total > 0:
		voiceRatio = float64(voiced) / float64(total)
	}

	m := StageMetrics{
		DurationSeconds:    round(max(0.1, duration), 3),
		VoiceRatioTotal:    round(clamp01(voiceRatio), 3),
		VoiceRatioStudent:  roundedRatio(f.VoiceRatioStudent),
		VoiceRatioGuru:     roundedRatio(f.VoiceRatioGuru),
		PitchStability:     round(clamp01(orDefault(f.PitchStability, 0.5)), 3),
		CadenceBPM:         round(orDefault(f.CadenceBPM, TargetCadenceBPM), 2),
		CadenceConsistency: round(clamp01(orDefault(f.CadenceConsistency, 0.5)), 3),
		AvgEnergy:          round(clamp01(orDefault(f.AvgEnergy, 0.5)), 3),
	}

	quality := signalQuality(m)
	confidence := round(clamp01(0.6*quality+0.4*snrNorm(f.SNRDB)), 3)

	features := NormalizedFeatures{
		DurationSeconds:    m.DurationSeconds,
		TotalFrames:        total,
		VoicedFrames:       voiced,
		SNRDB:              f.SNRDB,
		VoiceRatioTotal:    m.VoiceRatioTotal,
		VoiceRatioStudent:  m.VoiceRatioStudent,
		VoiceRatioGuru:     m.VoiceRatioGuru,
		PitchStability:     m.PitchStability,
		CadenceBPM:         m.CadenceBPM,
		CadenceConsistency: m.CadenceConsistency,
		AvgEnergy:          m.AvgEnergy,
	}
	return features, Chunk{Metrics: m, SNRDB: f.SNRDB, Confidence: confidence}
}

// AggregateInfo describes the chunk set behind a projection.
type AggregateInfo struct {
	DurationTotalSeconds float64  `json:"duration_total_seconds"`
	ChunkCount           int      `json:"chunk_count"`
	SNRMeanDB            *float64 `json:"snr_mean_db"`
}

type weighted struct {
	sum, weight float64
}

func (w *weighted) add(v, weight float64) {
	w.sum += v * weight
	w.weight += weight
}

func (w weighted) mean(def float64) float64 {
	if w.weight <= 0 {
		return def
	}
	return w.sum / w.weight
}

// AggregateChunks combines chunks into stage metrics using
// duration-weighted means. Student and guru ratios are only aggregated
// over the chunks that carry them.
func AggregateChunks(chunks []Chunk) (StageMetrics, AggregateInfo, error) {
	if len(chunks) == 0 {
		return StageMetrics{}, AggregateInfo{}, ErrNoChunks
	}

	var cadence, pitch, consistency, energy, voice, student, guru weighted
	var total float64
	var snrs []float64
	for _, c := range chunks {
		m := c.Metrics
		d := max(0.1, m.DurationSeconds)
		total += d

		cadence.add(m.CadenceBPM, d)
		pitch.add(clamp01(m.PitchStability), d)
		consistency.add(clamp01(m.CadenceConsistency), d)
		energy.add(clamp01(m.AvgEnergy), d)
		voice.add(clamp01(m.VoiceRatioTotal), d)
		if m.VoiceRatioStudent != nil {
			student.add(clamp01(*m.VoiceRatioStudent), d)
		}
		if m.VoiceRatioGuru != nil {
			guru.add(clamp01(*m.VoiceRatioGuru), d)
		}
		if c.SNRDB != nil {
			snrs = append(snrs, *c.SNRDB)
		}
	}

	metrics := StageMetrics{
		DurationSeconds:    round(total, 3),
		VoiceRatioTotal:    round(voice.mean(0), 3),
		PitchStability:     round(pitch.mean(0.5), 3),
		CadenceBPM:         round(cadence.mean(TargetCadenceBPM), 2),
		CadenceConsistency: round(consistency.mean(0.5), 3),
		AvgEnergy:          round(energy.mean(0.5), 3),
	}
	if student.weight > 0 {
		v := round(student.mean(0), 3)
		metrics.VoiceRatioStudent = &v
	}
	if guru.weight > 0 {
		v := round(guru.mean(0), 3)
		metrics.VoiceRatioGuru = &v
	}

	info := AggregateInfo{DurationTotalSeconds: round(total, 3), ChunkCount: len(chunks)}
	if len(snrs) > 0 {
		v := round(mean(snrs), 3)
		info.SNRMeanDB = &v
	}
	return metrics, info, nil
}

// Coverage is the share of the stage's target duration the chunks cover.
func Coverage(stage Stage, m StageMetrics) float64 {
	return clamp01(m.DurationSeconds / max(1, stage.TargetDurationSeconds()))
}

// ProjectionConfidence blends coverage, recording quality and signal
// quality into a confidence for an aggregated projection.
func ProjectionConfidence(stage Stage, m StageMetrics, info AggregateInfo) float64 {
	return round(clamp01(0.55*Coverage(stage, m)+0.25*snrNorm(info.SNRMeanDB)+0.20*signalQuality(m)), 3)
}

// scoreable pulls aggregated metrics into the ranges EvaluateStage
// accepts. Very short or off-tempo chunk sets still get a score.
func scoreable(m StageMetrics) StageMetrics {
	m.DurationSeconds = math.Min(1800, math.Max(1, m.DurationSeconds))
	m.CadenceBPM = math.Min(220, math.Max(20, m.CadenceBPM))
	return m
}

func signalQuality(m StageMetrics) float64 {
	return (clamp01(m.VoiceRatioTotal) + clamp01(m.PitchStability) + clamp01(m.CadenceConsistency)) / 3
}

func snrNorm(snr *float64) float64 {
	if snr == nil {
		return 0.5
	}
	return clamp01((*snr - 5) / 25)
}

func roundedRatio(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round(clamp01(*v), 3)
	return &r
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
