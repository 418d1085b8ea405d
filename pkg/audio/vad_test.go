package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame builds a PCM16 frame of the given sample count with constant amplitude.
func frame(samples int, amplitude int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		out[2*i] = byte(amplitude)
		out[2*i+1] = byte(amplitude >> 8)
	}
	return out
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, RMS(frame(160, 0)))
	assert.InDelta(t, 0.5, RMS(frame(160, 16384)), 0.001)
	assert.Equal(t, 0.0, RMS(nil))
}

func TestVADSingleEventPerSilenceSpan(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{
		SampleRate:      8000,
		Threshold:       0.01,
		SilenceDuration: 1000 * time.Millisecond,
	})

	loud := frame(160, 8000) // 20ms of speech
	quiet := frame(160, 0)   // 20ms of silence

	require.Nil(t, vad.Observe(loud))

	// 2000ms of continuous silence: exactly one event, fired at the 1000ms mark.
	events := 0
	for i := 0; i < 100; i++ {
		if ev := vad.Observe(quiet); ev != nil {
			events++
			assert.GreaterOrEqual(t, ev.Duration, 1000*time.Millisecond)
		}
	}
	assert.Equal(t, 1, events, "edge-triggered VAD must fire once per span")
}

func TestVADRearmsAfterSpeech(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{
		SampleRate:      8000,
		Threshold:       0.01,
		SilenceDuration: 100 * time.Millisecond,
	})

	loud := frame(160, 8000)
	quiet := frame(160, 0)

	fire := func() int {
		n := 0
		for i := 0; i < 10; i++ { // 200ms of silence
			if vad.Observe(quiet) != nil {
				n++
			}
		}
		return n
	}

	vad.Observe(loud)
	assert.Equal(t, 1, fire())

	// Still silent: no event until speech re-arms the detector.
	assert.Equal(t, 0, fire())

	vad.Observe(loud)
	assert.Equal(t, 1, fire())
}

func TestVADShortDipDoesNotFire(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{
		SampleRate:      8000,
		Threshold:       0.01,
		SilenceDuration: 1000 * time.Millisecond,
	})

	loud := frame(160, 8000)
	quiet := frame(160, 0)

	vad.Observe(loud)
	for i := 0; i < 20; i++ { // 400ms dip
		assert.Nil(t, vad.Observe(quiet))
	}
	vad.Observe(loud)
	for i := 0; i < 20; i++ {
		assert.Nil(t, vad.Observe(quiet))
	}
}

func TestVADPositionAdvancesBySamples(t *testing.T) {
	vad := NewVoiceActivityDetector(DefaultVADConfig())
	vad.Observe(frame(8000, 0)) // one second of audio
	assert.Equal(t, time.Second, vad.Position())

	vad.Reset()
	assert.Equal(t, time.Duration(0), vad.Position())
}

func TestVADDefaults(t *testing.T) {
	vad := NewVoiceActivityDetector(VADConfig{})
	assert.Equal(t, 8000, vad.cfg.SampleRate)
	assert.Equal(t, 0.008, vad.cfg.Threshold)
	assert.Equal(t, time.Second, vad.cfg.SilenceDuration)
}
