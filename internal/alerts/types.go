package alerts

import "time"

// Task type constants
const (
	TaskNewAccountEmail = "email:new_account"
	TaskNewAccountInfo  = "email:new_account_info"
	TaskWelcomeEmail    = "email:welcome"
)

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// New account verification email payload (to the registrant)
type NewAccountEmailPayload struct {
	Email    string        `json:"email"`
	Username string        `json:"username"`
	Token    string        `json:"token"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// New account notification payload (to the operator address)
type NewAccountInfoPayload struct {
	Email    string        `json:"email"`
	Username string        `json:"username"`
	FullName string        `json:"full_name"`
	About    string        `json:"about"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}

// Welcome email payload (after confirmed registration)
type WelcomeEmailPayload struct {
	Email    string        `json:"email"`
	Username string        `json:"username"`
	Envelope EmailEnvelope `json:"envelope"`
	SentAt   time.Time     `json:"sent_at"`
}
