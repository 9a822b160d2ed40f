package model

import "time"

type Template struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Channel   Channel   `db:"channel" json:"channel"`
	Subject   string    `db:"subject" json:"subject,omitempty"`
	Body      string    `db:"body" json:"body"`
	Variables []string  `db:"variables" json:"variables"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RenderedMessage is a template resolved for one recipient.
// Subject is empty for channels without one.
type RenderedMessage struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}
