package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"hotline-server/pkg/audio"
	"hotline-server/pkg/errors"
	"hotline-server/pkg/metrics"
)

// DefaultWhisperURL is the hosted Whisper transcription endpoint.
const DefaultWhisperURL = "https://api.openai.com/v1/audio/transcriptions"

// WhisperConfig holds configuration for the Whisper batch backend.
type WhisperConfig struct {
	APIKey     string
	APIURL     string
	Model      string
	Language   string
	SampleRate int
	Timeout    time.Duration
}

// WhisperBackend transcribes whole utterance buffers via the OpenAI Whisper
// REST API. It has no streaming mode: the owning session buffers audio until
// a silence event and submits the full utterance.
type WhisperBackend struct {
	logger     *logrus.Logger
	config     WhisperConfig
	httpClient *http.Client
}

// NewWhisperBackend creates a Whisper batch backend.
func NewWhisperBackend(logger *logrus.Logger, cfg WhisperConfig) *WhisperBackend {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultWhisperURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WhisperBackend{
		logger:     logger,
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns the backend name.
func (b *WhisperBackend) Name() string {
	return "whisper"
}

// Initialize validates the configuration.
func (b *WhisperBackend) Initialize() error {
	if b.config.APIKey == "" {
		return fmt.Errorf("%w: whisper API key is not set", ErrInitializationFailed)
	}
	b.logger.WithFields(logrus.Fields{
		"model":       b.config.Model,
		"sample_rate": b.config.SampleRate,
	}).Info("Whisper backend initialized")
	return nil
}

// Submit sends one utterance buffer for transcription and blocks until the
// final text is available or ctx is canceled.
func (b *WhisperBackend) Submit(ctx context.Context, pcm []byte, callID string) (Result, error) {
	done := metrics.ObserveBackendSubmit(b.Name())

	result, err := b.transcribe(ctx, pcm, callID)
	if err != nil {
		done(errors.GetErrorCode(err))
		return Result{}, err
	}

	done("")
	b.logger.WithFields(logrus.Fields{
		"call_id":  callID,
		"pcm_len":  len(pcm),
		"text_len": len(result.Text),
	}).Debug("Whisper transcription completed")
	return result, nil
}

func (b *WhisperBackend) transcribe(ctx context.Context, pcm []byte, callID string) (Result, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return Result{}, errors.Wrap(err, "building whisper request")
	}
	if _, err := part.Write(audio.EncodeWAV(pcm, b.config.SampleRate)); err != nil {
		return Result{}, errors.Wrap(err, "building whisper request")
	}
	if err := form.WriteField("model", b.config.Model); err != nil {
		return Result{}, errors.Wrap(err, "building whisper request")
	}
	if b.config.Language != "" {
		if err := form.WriteField("language", b.config.Language); err != nil {
			return Result{}, errors.Wrap(err, "building whisper request")
		}
	}
	if err := form.WriteField("temperature", "0"); err != nil {
		return Result{}, errors.Wrap(err, "building whisper request")
	}
	if err := form.Close(); err != nil {
		return Result{}, errors.Wrap(err, "building whisper request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.APIURL, &body)
	if err != nil {
		return Result{}, errors.Wrap(err, "building whisper request")
	}
	req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, errors.NewBackendTransient(err, map[string]interface{}{"call_id": callID})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, classifyHTTPStatus(resp.StatusCode,
			fmt.Errorf("whisper API returned %d: %s", resp.StatusCode, snippet))
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, errors.NewBackendTransient(err, map[string]interface{}{"call_id": callID})
	}

	return Result{
		Text:    payload.Text,
		IsFinal: true,
		Metadata: map[string]interface{}{
			"provider": b.Name(),
			"model":    b.config.Model,
		},
	}, nil
}
