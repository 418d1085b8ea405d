package audio

import (
	"math"
	"time"
)

// VADConfig holds voice activity detection tuning. Threshold and silence
// duration are deployment-tunable; the defaults match 8kHz telephony audio.
type VADConfig struct {
	SampleRate      int
	Threshold       float64       // RMS level below which a frame counts as silence
	SilenceDuration time.Duration // how long energy must stay below threshold
}

// DefaultVADConfig returns settings suitable for 8kHz mu-law telephony audio.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		SampleRate:      8000,
		Threshold:       0.008,
		SilenceDuration: 1000 * time.Millisecond,
	}
}

// SilenceEvent marks the point where sustained silence crossed the configured
// duration. At is the stream position measured in decoded samples.
type SilenceEvent struct {
	At       time.Duration
	Duration time.Duration
}

// VoiceActivityDetector tracks RMS energy across observed PCM frames and
// emits one SilenceEvent per silence span. It is edge-triggered: after an
// event fires, energy must rise above the threshold and fall back below it
// before another event can fire. Time advances by sample count, not wall
// clock, so the detector behaves identically whether it runs before or after
// the network hop.
//
// The detector is not safe for concurrent use; each call session owns one
// and feeds it from its single processing goroutine.
type VoiceActivityDetector struct {
	cfg VADConfig

	pos          int64 // samples observed so far
	silenceStart int64 // sample position where the current quiet span began, -1 outside one
	fired        bool  // event already emitted for the current quiet span
}

// NewVoiceActivityDetector creates a detector with the given config, filling
// in defaults for zero values.
func NewVoiceActivityDetector(cfg VADConfig) *VoiceActivityDetector {
	def := DefaultVADConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = def.SilenceDuration
	}
	return &VoiceActivityDetector{cfg: cfg, silenceStart: -1}
}

// Observe feeds one decoded PCM16 frame to the detector. It returns a
// SilenceEvent exactly once per silence span, nil otherwise.
func (v *VoiceActivityDetector) Observe(pcm []byte) *SilenceEvent {
	samples := int64(len(pcm) / 2)
	if samples == 0 {
		return nil
	}

	level := RMS(pcm)
	v.pos += samples

	if level >= v.cfg.Threshold {
		// Speech: close the quiet span and re-arm.
		v.silenceStart = -1
		v.fired = false
		return nil
	}

	if v.silenceStart < 0 {
		v.silenceStart = v.pos - samples
	}
	if v.fired {
		return nil
	}

	quiet := v.samplesToDuration(v.pos - v.silenceStart)
	if quiet < v.cfg.SilenceDuration {
		return nil
	}

	v.fired = true
	return &SilenceEvent{
		At:       v.samplesToDuration(v.pos),
		Duration: quiet,
	}
}

// Position returns the stream position of the last observed sample.
func (v *VoiceActivityDetector) Position() time.Duration {
	return v.samplesToDuration(v.pos)
}

// Reset clears all detector state.
func (v *VoiceActivityDetector) Reset() {
	v.pos = 0
	v.silenceStart = -1
	v.fired = false
}

func (v *VoiceActivityDetector) samplesToDuration(samples int64) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(v.cfg.SampleRate)
}

// RMS computes the root-mean-square level of a PCM16 little-endian frame,
// normalized to [0, 1].
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	total := 0.0
	for i := 0; i < samples; i++ {
		sample := int16(pcm[2*i]) | (int16(pcm[2*i+1]) << 8)
		f := float64(sample) / 32768.0
		total += f * f
	}
	return math.Sqrt(total / float64(samples))
}
