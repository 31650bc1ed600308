package resource

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"

	"github.com/kaimel/archiver/internal/store"
)

// LoadMail materializes a stored mail into its wire resource. Only the
// headers of the stored bytes are re-parsed; the body was extracted at
// ingest and lives in m.Text. A nil URLBuilder renders every self link as
// null.
func LoadMail(m *store.Mail, atts []store.AttachmentMeta, urls *URLBuilder) (*Mail, error) {
	entity, err := message.Read(bytes.NewReader(m.Data))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse stored mail %s: %w", m.ID, err)
	}
	h := gomail.Header{Header: entity.Header}

	res := &Mail{
		Self:        urls.MailURL(m.ID),
		ID:          m.ID,
		Date:        m.Date,
		Text:        m.Text,
		From:        addressList(h, "From"),
		ReplyTo:     addressList(h, "Reply-To"),
		To:          addressList(h, "To"),
		Cc:          addressList(h, "Cc"),
		Bcc:         addressList(h, "Bcc"),
		InReplyTo:   referenceList(h, "In-Reply-To"),
		References:  referenceList(h, "References"),
		Attachments: make([]Attachment, 0, len(atts)),
	}
	if senders := addressList(h, "Sender"); len(senders) > 0 {
		res.Sender = &senders[0]
	}
	if h.Has("Subject") {
		subject, err := h.Subject()
		if err != nil {
			subject = h.Get("Subject")
		}
		subject = strings.TrimSpace(subject)
		res.Subject = &subject
	}
	for _, a := range atts {
		res.Attachments = append(res.Attachments, LoadAttachment(&a, urls))
	}
	return res, nil
}

// LoadAttachment projects stored attachment metadata into its wire resource.
// The payload is never included; the attachment endpoint serves it.
func LoadAttachment(a *store.AttachmentMeta, urls *URLBuilder) Attachment {
	return Attachment{
		Self:   urls.AttachmentURL(a.MailID, a.Number),
		Name:   a.Name,
		Number: a.Number,
		Type:   a.Type,
		Code:   a.Code,
	}
}

// addressList parses one address header into targets, de-duplicated
// preserving first occurrence. An absent or unparseable header yields nil,
// which serializes as null.
func addressList(h gomail.Header, key string) []Target {
	if h.Get(key) == "" {
		return nil
	}
	addrs, err := h.AddressList(key)
	if err != nil && len(addrs) == 0 {
		return nil
	}

	var targets []Target
	seen := make(map[Target]bool, len(addrs))
	for _, a := range addrs {
		if a.Address == "" {
			continue
		}
		t := Target{Name: a.Name, AddrSpec: a.Address}
		if seen[t] {
			continue
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets
}

// referenceList splits a message-id header on whitespace, unquoting each
// token, order preserved. Absent header yields nil.
func referenceList(h gomail.Header, key string) []string {
	value := h.Get(key)
	if value == "" {
		return nil
	}
	var refs []string
	for _, token := range strings.Fields(value) {
		refs = append(refs, unquote(token))
	}
	return refs
}

// unquote strips one layer of angle brackets or quotes from a token, the
// way message-id and quoted-string values are written on the wire.
func unquote(s string) string {
	if len(s) > 1 && strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		return s[1 : len(s)-1]
	}
	if len(s) > 1 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		inner := s[1 : len(s)-1]
		if !strings.Contains(inner, `\`) {
			return inner
		}
		// One left-to-right pass: a backslash escapes the byte after it.
		var sb strings.Builder
		sb.Grow(len(inner))
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) {
				i++
			}
			sb.WriteByte(inner[i])
		}
		return sb.String()
	}
	return s
}
