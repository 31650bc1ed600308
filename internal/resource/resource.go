// Package resource defines the JSON wire representation of archived mail.
//
// Field names follow the published API: address headers serialize under
// their RFC 5322 names (including "reply-to" and "in-reply-to"), absent
// headers serialize as null, and every object carries a "self" link when a
// URLBuilder is in scope. Values are immutable once built; handlers never
// mutate a resource after materialization.
package resource

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Target is one parsed address from an address header. Name is the display
// name and may be empty; AddrSpec is the bare address.
type Target struct {
	Name     string `json:"name"`
	AddrSpec string `json:"addr_spec"`
}

// String renders the target in RFC 5322 name-addr form.
func (t Target) String() string {
	return fmt.Sprintf("%s <%s>", t.Name, t.AddrSpec)
}

// Attachment is the wire shape of one MIME part of a mail. It never carries
// the part's bytes; those are served by the attachment endpoint.
type Attachment struct {
	Self   *string `json:"self"`
	Name   *string `json:"name"`
	Number int     `json:"number"`
	Type   string  `json:"type"`
	Code   *string `json:"code"`
}

// Mail is the wire shape of one archived message. Nil address and reference
// slices marshal as null (header absent); Attachments is always an array.
type Mail struct {
	Self        *string      `json:"self"`
	ID          string       `json:"id"`
	Date        time.Time    `json:"date"`
	Text        string       `json:"text"`
	From        []Target     `json:"from"`
	Sender      *Target      `json:"sender"`
	ReplyTo     []Target     `json:"reply-to"`
	To          []Target     `json:"to"`
	Cc          []Target     `json:"cc"`
	Bcc         []Target     `json:"bcc"`
	Subject     *string      `json:"subject"`
	InReplyTo   []string     `json:"in-reply-to"`
	References  []string     `json:"references"`
	Attachments []Attachment `json:"attachments"`
}

// URLBuilder renders self links. The zero base produces host-relative paths;
// a non-empty base (e.g. "https://archive.example.com") produces absolute
// URLs. A nil *URLBuilder is valid and renders every link as null, for
// materialization outside a request context.
type URLBuilder struct {
	base string
}

// NewURLBuilder returns a builder prefixing every link with base.
func NewURLBuilder(base string) *URLBuilder {
	return &URLBuilder{base: strings.TrimSuffix(base, "/")}
}

// MailURL returns the link to a mail, or nil on a nil builder.
func (b *URLBuilder) MailURL(id string) *string {
	if b == nil {
		return nil
	}
	u := b.base + "/mail/" + url.PathEscape(id)
	return &u
}

// AttachmentURL returns the link to one attachment of a mail, or nil on a
// nil builder.
func (b *URLBuilder) AttachmentURL(mailID string, number int) *string {
	if b == nil {
		return nil
	}
	u := fmt.Sprintf("%s/mail/%s/attachment/%d", b.base, url.PathEscape(mailID), number)
	return &u
}
