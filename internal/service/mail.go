package service

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/models"
)

//go:embed templates/*.html
var templatesFS embed.FS

var (
	emailTemplates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))
	tagPattern     = regexp.MustCompile(`<[^>]*>`)
	blankLines     = regexp.MustCompile(`\n\s*\n+`)
)

const (
	activationTemplate    = "user_activation.html"
	resetPasswordTemplate = "user_reset_password.html"

	activationSubject    = "Activate your account."
	resetPasswordSubject = "Reset your password."
)

// TaskDispatcher hands an email to the asynchronous delivery pipeline.
type TaskDispatcher interface {
	Enqueue(ctx context.Context, task models.EmailTask) error
}

type MailService struct {
	dispatcher TaskDispatcher
	metrics    *metrics.Metrics
}

func NewMailService(dispatcher TaskDispatcher, m *metrics.Metrics) *MailService {
	return &MailService{dispatcher: dispatcher, metrics: m}
}

type activationData struct {
	Username string
	URL      string
}

type resetPasswordData struct {
	Username       string
	URL            string
	UserHost       string
	UserAgent      string
	ExpiresInHours int
	FrontendURL    string
}

func (s *MailService) SendActivation(ctx context.Context, user *models.User, data activationData) error {
	return s.send(ctx, user.Email, activationSubject, activationTemplate, data)
}

func (s *MailService) SendResetPassword(ctx context.Context, user *models.User, data resetPasswordData) error {
	return s.send(ctx, user.Email, resetPasswordSubject, resetPasswordTemplate, data)
}

func (s *MailService) send(ctx context.Context, to, subject, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	html := buf.String()

	task := models.EmailTask{
		To:      to,
		Subject: subject,
		HTML:    html,
		Text:    stripTags(html),
	}
	if err := s.dispatcher.Enqueue(ctx, task); err != nil {
		s.metrics.EmailTasks.WithLabelValues("enqueue_failed").Inc()
		return err
	}
	s.metrics.EmailTasks.WithLabelValues("queued").Inc()
	return nil
}

func stripTags(html string) string {
	text := tagPattern.ReplaceAllString(html, "")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
