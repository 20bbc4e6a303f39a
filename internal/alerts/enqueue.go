package alerts

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

// ensureClient returns a usable client instance
func ensureClient() *asynq.Client {
	if client == nil {
		Init()
	}
	return client
}

func projectName() string {
	if v := os.Getenv("PROJECT_NAME"); v != "" {
		return v
	}
	return "VolunteerHub"
}

func appURL() string {
	base := os.Getenv("APP_URL")
	if base == "" {
		base = "http://localhost:3000"
	}
	return strings.TrimRight(base, "/")
}

func newAccountEnvelope(email, username, token string) EmailEnvelope {
	confirmURL := fmt.Sprintf("%s/confirm-registration?token=%s", appURL(), url.QueryEscape(token))
	cancelURL := fmt.Sprintf("%s/cancel-registration?token=%s", appURL(), url.QueryEscape(token))
	return EmailEnvelope{
		To:      email,
		Subject: fmt.Sprintf("%s - New account for user %s", projectName(), username),
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour %s account has been created. Please verify your email address by opening the link below:\n%s\n\nIf you did not sign up, you can cancel the registration here:\n%s\n\nThe link expires; request a new one by registering again if needed.",
			username, projectName(), confirmURL, cancelURL),
	}
}

func newAccountInfoEnvelope(to, username, fullName, about string) EmailEnvelope {
	return EmailEnvelope{
		To:      to,
		Subject: fmt.Sprintf("%s - New account registered: %s", projectName(), username),
		Body: fmt.Sprintf(
			"A new account was just registered.\n\nEmail: %s\nFull name: %s\nAbout: %s",
			username, fullName, about),
	}
}

func welcomeEnvelope(email, username string) EmailEnvelope {
	return EmailEnvelope{
		To:      email,
		Subject: fmt.Sprintf("%s - Welcome, %s!", projectName(), username),
		Body: fmt.Sprintf(
			"Hi %s,\n\nYour registration is confirmed. Thanks for joining %s.\n\nOpen %s: %s",
			username, projectName(), projectName(), appURL()),
	}
}

// EnqueueNewAccountEmail schedules the verification email for a freshly
// registered user. The token is embedded in the confirmation link.
func EnqueueNewAccountEmail(email, username, token string) error {
	env := newAccountEnvelope(email, username, token)
	payload := NewAccountEmailPayload{Email: email, Username: username, Token: token, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	task := asynq.NewTask(TaskNewAccountEmail, b)
	_, err := ensureClient().Enqueue(task, asynq.Queue("emails"))
	return err
}

// EnqueueNewAccountInfo notifies the operator address about a new registrant
func EnqueueNewAccountInfo(to, username, fullName, about string) error {
	env := newAccountInfoEnvelope(to, username, fullName, about)
	payload := NewAccountInfoPayload{Email: to, Username: username, FullName: fullName, About: about, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	task := asynq.NewTask(TaskNewAccountInfo, b)
	_, err := ensureClient().Enqueue(task, asynq.Queue("emails"))
	return err
}

// EnqueueWelcomeEmail schedules the welcome email after confirmation
func EnqueueWelcomeEmail(email, username string) error {
	env := welcomeEnvelope(email, username)
	payload := WelcomeEmailPayload{Email: email, Username: username, Envelope: env, SentAt: time.Now()}
	b, _ := json.Marshal(payload)
	task := asynq.NewTask(TaskWelcomeEmail, b)
	_, err := ensureClient().Enqueue(task, asynq.Queue("emails"))
	return err
}

// EmailNotifier adapts the enqueue functions to the Mailer interface the
// user handlers consume.
type EmailNotifier struct{}

func (EmailNotifier) SendNewAccountEmail(to, username, token string) error {
	return EnqueueNewAccountEmail(to, username, token)
}

func (EmailNotifier) SendNewAccountInfo(to, username, fullName, about string) error {
	return EnqueueNewAccountInfo(to, username, fullName, about)
}

func (EmailNotifier) SendWelcomeEmail(to, username string) error {
	return EnqueueWelcomeEmail(to, username)
}
