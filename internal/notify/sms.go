package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"

	"github.com/pkg/errors"
)

// GatewaySMSSender posts texts to an HTTP SMS gateway as JSON
type GatewaySMSSender struct {
	url    string
	apiKey string
	sender string
	client *http.Client
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func NewGatewaySMSSender(cfg config.SMSConfig) *GatewaySMSSender {
	return &GatewaySMSSender{
		url:    cfg.GatewayURL,
		apiKey: cfg.APIKey,
		sender: cfg.Sender,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *GatewaySMSSender) SendSMS(ctx context.Context, to, text string) error {
	body, err := json.Marshal(smsRequest{From: s.sender, To: to, Text: text})
	if err != nil {
		return errors.Wrap(err, "marshal sms")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build sms request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send sms")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Errorf("sms gateway returned status %d", res.StatusCode)
	}
	return nil
}
