package store

import "time"

// Mail is one archived message, including the original bytes. Immutable
// after insert.
type Mail struct {
	ID   string
	Date time.Time
	Text string
	Data []byte
}

// AttachmentMeta is an attachment row without its payload. Payloads are
// large; queries project them in only when a response needs the bytes.
type AttachmentMeta struct {
	MailID string
	Number int
	Name   *string
	Type   string
	Code   *string
}

// Attachment is a full attachment row, payload included. Only the ingest
// path handles these.
type Attachment struct {
	AttachmentMeta
	Data []byte
}

// Consumer is a registered feed subscriber.
type Consumer struct {
	ID   int64
	Name string
}

// Dispatch schedules one mail for one consumer. Its existence is the sole
// authorization for that consumer to read that mail.
type Dispatch struct {
	ConsumerID int64
	MailID     string
	LastTime   *time.Time
	NextTime   time.Time
	CreatedAt  time.Time
}

// ClaimedMail is one delivery produced by a claim: the mail and its
// attachment metadata. By the time the caller sees it, the dispatch update
// is committed.
type ClaimedMail struct {
	Mail        Mail
	Attachments []AttachmentMeta
}
