package models

// EmailMessage is the payload queued for the mail_sender worker.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
