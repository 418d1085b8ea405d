package callinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"hotline-server/pkg/errors"
)

const defaultTwilioAPIURL = "https://api.twilio.com"

// TwilioConfig holds credentials for the Twilio REST calls API.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIURL     string
	Timeout    time.Duration
}

// TwilioResolver resolves caller metadata from the Twilio calls resource.
type TwilioResolver struct {
	config TwilioConfig
	client *http.Client
	logger *logrus.Logger
}

// NewTwilioResolver creates a resolver against the Twilio REST API.
func NewTwilioResolver(config TwilioConfig, logger *logrus.Logger) (*TwilioResolver, error) {
	if config.AccountSID == "" || config.AuthToken == "" {
		return nil, errors.New("twilio account SID and auth token are required")
	}
	if config.APIURL == "" {
		config.APIURL = defaultTwilioAPIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	return &TwilioResolver{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

type twilioCallResource struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Resolve fetches the call resource and returns the originating number as
// the caller id.
func (r *TwilioResolver) Resolve(ctx context.Context, callSid string) (CallerInfo, error) {
	if callSid == "" {
		return CallerInfo{}, errors.New("call SID is empty")
	}

	url := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", r.config.APIURL, r.config.AccountSID, callSid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CallerInfo{}, errors.Wrap(err, "failed to build call lookup request")
	}
	req.SetBasicAuth(r.config.AccountSID, r.config.AuthToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return CallerInfo{}, errors.Wrap(err, "call lookup request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CallerInfo{}, errors.New(fmt.Sprintf("call lookup returned status %d", resp.StatusCode))
	}

	var resource twilioCallResource
	if err := json.NewDecoder(resp.Body).Decode(&resource); err != nil {
		return CallerInfo{}, errors.Wrap(err, "failed to decode call resource")
	}

	r.logger.WithFields(logrus.Fields{
		"call_sid": callSid,
		"from":     resource.From,
	}).Debug("Resolved caller metadata")

	return CallerInfo{
		CallerID: resource.From,
		From:     resource.From,
		To:       resource.To,
	}, nil
}
