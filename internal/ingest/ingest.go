// Package ingest turns raw RFC 5322 messages into archive rows: it parses
// the message once, normalizes each MIME part's type and charset, stores the
// mail, and schedules dispatches for the consumers that should see it.
//
// Ingest is the feed's producer side: committing a dispatch and then
// notifying the consumer's channel is what wakes a streaming session.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdmime "mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kaimel/archiver/internal/mime"
	"github.com/kaimel/archiver/internal/store"
	"github.com/kaimel/archiver/internal/textutil"
)

// ErrDuplicatePart reports a message whose scrubbed parts collide on their
// number. The schema's primary key would reject the insert anyway; catching
// it here keeps the error readable.
var ErrDuplicatePart = errors.New("duplicate attachment number")

// Sniffer guesses a media type and charset from content. A false ok keeps
// the part's declared values; sniffing is never fatal.
type Sniffer func(data []byte) (mtype, charset string, ok bool)

// DetectContentType is the default sniffer. It reports false when detection
// comes back with the octet-stream fallback, since that adds nothing over
// the declared type.
func DetectContentType(data []byte) (string, string, bool) {
	mt := mimetype.Detect(data)
	mediatype, params, err := stdmime.ParseMediaType(mt.String())
	if err != nil || mediatype == "" || mediatype == "application/octet-stream" {
		return "", "", false
	}
	return mediatype, strings.ToLower(params["charset"]), true
}

// Ingestor writes parsed messages into the store.
type Ingestor struct {
	store  *store.Store
	sniff  Sniffer
	logger *slog.Logger
}

// New creates an Ingestor with the default content sniffer.
func New(s *store.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: s, sniff: DetectContentType, logger: logger}
}

// WithSniffer replaces the content sniffer. Tests use this to make sniffing
// deterministic.
func (in *Ingestor) WithSniffer(sniff Sniffer) *Ingestor {
	in.sniff = sniff
	return in
}

// Result summarizes one ingested message.
type Result struct {
	MailID      string
	Attachments int
	Dispatches  int
}

// Ingest parses raw, stores the mail with its normalized attachments, and
// creates a dispatch per consumer id. When notify is set, each committed
// dispatch is announced on the consumer's channel so live streams pick the
// mail up immediately.
//
// A Message-ID that is already archived reports store.ErrDuplicateMail.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte, consumerIDs []int64, notify bool) (*Result, error) {
	msg, err := mime.Parse(raw)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(msg.Parts))
	attachments := make([]store.Attachment, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		if seen[p.Number] {
			return nil, fmt.Errorf("%w: %s part %d", ErrDuplicatePart, msg.ID, p.Number)
		}
		seen[p.Number] = true
		attachments = append(attachments, in.normalize(p))
	}

	m := &store.Mail{ID: msg.ID, Date: msg.Date, Text: msg.Text, Data: msg.Raw}
	if err := in.store.InsertMail(ctx, m, attachments); err != nil {
		return nil, err
	}

	res := &Result{MailID: msg.ID, Attachments: len(attachments)}
	for _, consumerID := range consumerIDs {
		created, err := in.store.CreateDispatch(ctx, consumerID, msg.ID)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		res.Dispatches++
		if notify {
			if err := in.store.NotifyConsumer(ctx, consumerID, msg.ID); err != nil {
				return nil, err
			}
		}
	}

	in.logger.Debug("ingested mail",
		"id", msg.ID, "attachments", res.Attachments, "dispatches", res.Dispatches)
	return res, nil
}

// normalize applies the part normalization rules: sniff vague declared
// types, decode text payloads to UTF-8 where possible, and keep charset
// metadata only on text parts.
func (in *Ingestor) normalize(p mime.Part) store.Attachment {
	typ, code := p.Type, p.Code
	payload, textual := p.Payload, p.Textual

	// Octet-stream and bare text/plain declarations say little; let the
	// sniffer improve on them. Failure keeps the declared values.
	if typ == "application/octet-stream" || typ == "text/plain" {
		if t, c, ok := in.sniff(payload); ok {
			typ, code = t, c
		}
	}

	// A text part whose payload is still raw bytes gets decoded with its
	// declared charset, falling back to detection. Failure keeps the bytes.
	if strings.HasPrefix(typ, "text/") && !textual {
		if decoded, ok := textutil.Decode(payload, code); ok {
			payload, textual = decoded, true
		} else if guess := textutil.DetectCharset(payload); guess != "" {
			if decoded, ok := textutil.Decode(payload, guess); ok {
				payload, textual = decoded, true
			}
		}
	}

	// Text decoded here is valid UTF-8 by construction; text the parser
	// decoded upstream is not guaranteed to be, so scrub it.
	if textual {
		code = "utf-8"
		payload = []byte(textutil.SanitizeUTF8(string(payload)))
	}

	a := store.Attachment{Data: payload}
	a.Number = p.Number
	a.Type = typ
	if p.Name != "" {
		name := p.Name
		a.Name = &name
	}
	if code != "" && strings.HasPrefix(typ, "text/") {
		c := code
		a.Code = &c
	}
	return a
}
