package stt

import (
	"context"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"hotline-server/pkg/errors"
	"hotline-server/pkg/metrics"
)

// GoogleConfig holds configuration for the Google streaming backend.
type GoogleConfig struct {
	APIKey          string
	CredentialsFile string
	Language        string
	Model           string
	SampleRate      int
	MaxAlternatives int
}

// GoogleBackend streams audio to Google Speech-to-Text and surfaces interim
// and final results as they arrive.
type GoogleBackend struct {
	logger *logrus.Logger
	client *speech.Client
	config GoogleConfig
}

// NewGoogleBackend creates a Google Speech-to-Text streaming backend.
func NewGoogleBackend(logger *logrus.Logger, cfg GoogleConfig) *GoogleBackend {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	return &GoogleBackend{logger: logger, config: cfg}
}

// Name returns the backend name.
func (b *GoogleBackend) Name() string {
	return "google"
}

// Initialize creates the Speech client.
func (b *GoogleBackend) Initialize() error {
	var opts []option.ClientOption
	switch {
	case b.config.APIKey != "":
		opts = append(opts, option.WithAPIKey(b.config.APIKey))
	case b.config.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(b.config.CredentialsFile))
	default:
		return fmt.Errorf("%w: google STT requires an API key or credentials file", ErrInitializationFailed)
	}

	client, err := speech.NewClient(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitializationFailed, err)
	}
	b.client = client

	b.logger.WithFields(logrus.Fields{
		"language":    b.config.Language,
		"sample_rate": b.config.SampleRate,
		"model":       b.config.Model,
	}).Info("Google Speech-to-Text backend initialized")
	return nil
}

// OpenStream starts one streaming-recognize session for a call.
func (b *GoogleBackend) OpenStream(ctx context.Context, callID string) (StreamHandle, error) {
	if b.client == nil {
		return nil, ErrInitializationFailed
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := b.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, errors.NewBackendTransient(err, map[string]interface{}{"call_id": callID})
	}

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(b.config.SampleRate),
		LanguageCode:               b.config.Language,
		EnableAutomaticPunctuation: true,
		MaxAlternatives:            int32(b.config.MaxAlternatives),
	}
	if b.config.Model != "" {
		recognitionConfig.Model = b.config.Model
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig,
				InterimResults: true,
			},
		},
	}); err != nil {
		cancel()
		return nil, errors.NewBackendTransient(err, map[string]interface{}{"call_id": callID})
	}

	metrics.IncBackendOp(b.Name(), "open")

	gs := &googleStream{
		logger:  b.logger.WithField("call_id", callID),
		stream:  stream,
		cancel:  cancel,
		results: make(chan Result, 32),
		done:    make(chan struct{}),
	}
	go gs.receive()
	return gs, nil
}

type googleStream struct {
	logger    *logrus.Entry
	stream    speechpb.Speech_StreamingRecognizeClient
	cancel    context.CancelFunc
	results   chan Result
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// Push forwards decoded PCM to the recognize stream.
func (s *googleStream) Push(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	})
	if err != nil {
		return errors.NewBackendTransient(err)
	}
	return nil
}

// Results yields transcriptions in backend order.
func (s *googleStream) Results() <-chan Result {
	return s.results
}

// Close half-closes the send side and cancels the stream context. Safe to
// call more than once.
func (s *googleStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		if err := s.stream.CloseSend(); err != nil {
			s.logger.WithError(err).Debug("Failed to close google stream send side")
		}
		s.cancel()
	})
	return nil
}

func (s *googleStream) receive() {
	defer close(s.results)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.WithError(err).Error("Google Speech stream receive failed")
			}
			return
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			alt := result.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}

			select {
			case s.results <- Result{
				Text:    alt.Transcript,
				IsFinal: result.IsFinal,
				Metadata: map[string]interface{}{
					"provider":   "google",
					"confidence": alt.Confidence,
					"stability":  result.Stability,
				},
			}:
			case <-s.done:
				return
			}
		}
	}
}
