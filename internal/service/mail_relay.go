package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/models"
)

const (
	defaultHTTPStatusThreshold = 300
	relayTimeout               = 10 * time.Second
)

// MailRelay delivers email tasks by POSTing them as JSON to an HTTP mail relay.
type MailRelay struct {
	client   *http.Client
	log      *zap.SugaredLogger
	relayURL string
}

func NewMailRelay(log *zap.SugaredLogger, relayURL string) *MailRelay {
	return &MailRelay{
		client:   &http.Client{Timeout: relayTimeout},
		log:      log,
		relayURL: relayURL,
	}
}

func (s *MailRelay) Deliver(ctx context.Context, task models.EmailTask) error {
	if s.relayURL == "" {
		s.log.Warnw("MAIL_RELAY_URL is empty, dropping email", "to", task.To, "subject", task.Subject)
		return nil
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= defaultHTTPStatusThreshold {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	return nil
}

// Enqueue delivers synchronously. It lets the relay stand in for the queue when no redis is configured.
func (s *MailRelay) Enqueue(ctx context.Context, task models.EmailTask) error {
	return s.Deliver(ctx, task)
}
