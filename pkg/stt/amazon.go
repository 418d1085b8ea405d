package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"hotline-server/pkg/errors"
	"hotline-server/pkg/metrics"
)

// AmazonConfig holds configuration for the Amazon Transcribe backend.
type AmazonConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Language        string
	SampleRate      int
	VocabularyName  string
}

// AmazonBackend streams audio to Amazon Transcribe's streaming API.
type AmazonBackend struct {
	logger *logrus.Logger
	client *transcribestreaming.Client
	config AmazonConfig
}

// NewAmazonBackend creates an Amazon Transcribe streaming backend.
func NewAmazonBackend(logger *logrus.Logger, cfg AmazonConfig) *AmazonBackend {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	return &AmazonBackend{logger: logger, config: cfg}
}

// Name returns the backend name.
func (b *AmazonBackend) Name() string {
	return "amazon-transcribe"
}

// Initialize creates the Transcribe Streaming client.
func (b *AmazonBackend) Initialize() error {
	if b.config.AccessKeyID == "" || b.config.SecretAccessKey == "" {
		return fmt.Errorf("%w: amazon transcribe requires AWS credentials", ErrInitializationFailed)
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(b.config.Region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     b.config.AccessKeyID,
				SecretAccessKey: b.config.SecretAccessKey,
			}, nil
		})),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitializationFailed, err)
	}

	b.client = transcribestreaming.NewFromConfig(cfg)
	b.logger.WithFields(logrus.Fields{
		"region":      b.config.Region,
		"language":    b.config.Language,
		"sample_rate": b.config.SampleRate,
	}).Info("Amazon Transcribe backend initialized")
	return nil
}

// OpenStream starts one streaming transcription for a call.
func (b *AmazonBackend) OpenStream(ctx context.Context, callID string) (StreamHandle, error) {
	if b.client == nil {
		return nil, ErrInitializationFailed
	}

	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(b.config.Language),
		MediaSampleRateHertz: aws.Int32(int32(b.config.SampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	}
	if b.config.VocabularyName != "" {
		input.VocabularyName = aws.String(b.config.VocabularyName)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := b.client.StartStreamTranscription(streamCtx, input)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "403") || strings.Contains(err.Error(), "AccessDenied") {
			return nil, errors.NewBackendFatal(err, map[string]interface{}{"call_id": callID})
		}
		return nil, errors.NewBackendTransient(err, map[string]interface{}{"call_id": callID})
	}

	metrics.IncBackendOp(b.Name(), "open")

	as := &amazonStream{
		logger:  b.logger.WithField("call_id", callID),
		ctx:     streamCtx,
		cancel:  cancel,
		stream:  resp.GetStream(),
		results: make(chan Result, 32),
		done:    make(chan struct{}),
	}
	go as.receive()
	return as, nil
}

type amazonStream struct {
	logger    *logrus.Entry
	ctx       context.Context
	cancel    context.CancelFunc
	stream    *transcribestreaming.StartStreamTranscriptionEventStream
	results   chan Result
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// Push forwards decoded PCM to the transcription stream.
func (s *amazonStream) Push(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	event := &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{AudioChunk: pcm},
	}
	if err := s.stream.Send(s.ctx, event); err != nil {
		return errors.NewBackendTransient(err)
	}
	return nil
}

// Results yields transcriptions in backend order.
func (s *amazonStream) Results() <-chan Result {
	return s.results
}

// Close releases the event stream. Safe to call more than once.
func (s *amazonStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		if err := s.stream.Close(); err != nil {
			s.logger.WithError(err).Debug("Failed to close transcribe event stream")
		}
		s.cancel()
	})
	return nil
}

func (s *amazonStream) receive() {
	defer close(s.results)

	for event := range s.stream.Events() {
		transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || transcriptEvent.Value.Transcript == nil {
			continue
		}

		for _, result := range transcriptEvent.Value.Transcript.Results {
			for _, alternative := range result.Alternatives {
				if alternative.Transcript == nil || *alternative.Transcript == "" {
					continue
				}

				out := Result{
					Text:    *alternative.Transcript,
					IsFinal: !result.IsPartial,
					Metadata: map[string]interface{}{
						"provider":   "amazon-transcribe",
						"is_partial": result.IsPartial,
						"start_time": result.StartTime,
						"end_time":   result.EndTime,
					},
				}
				select {
				case s.results <- out:
				case <-s.done:
					return
				}
			}
		}
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if err := s.stream.Err(); err != nil && !closed {
		s.logger.WithError(err).Error("Amazon Transcribe stream failed")
	}
}
