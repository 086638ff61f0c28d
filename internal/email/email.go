package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// Sender delivers the signup/email-change confirmation mail. Delivery is
// fire-and-forget: callers log failures and move on.
type Sender interface {
	SendConfirmation(ctx context.Context, toEmail, username, confirmURL string) error
}

type APISender struct {
	apiKey  string
	from    string
	client  *http.Client
	baseURL string
}

func NewAPISender(apiKey, from, baseURL string) (*APISender, error) {
	if apiKey == "" {
		return nil, errors.New("mail API key is not set")
	}

	return &APISender{
		apiKey: apiKey,
		from:   from,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL: baseURL,
	}, nil
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (s *APISender) SendConfirmation(ctx context.Context, toEmail, username, confirmURL string) error {
	body := sendRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: "Confirm your email",
		HTML: `
			<p>Hi ` + username + `!</p>
			<p>Please confirm your email by clicking the link below:</p>
			<p><a href="` + confirmURL + `">Confirm email</a></p>
		`,
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return errors.New("send confirmation email: " + string(errBody))
	}

	return nil
}
