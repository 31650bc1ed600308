// Package mime parses raw RFC 5322 messages into the shape the archive
// ingests: the extracted plaintext body plus a numbered list of MIME parts.
package mime

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"github.com/kaimel/archiver/internal/textutil"
)

var (
	// ErrNoMessageID reports a message without a Message-ID header. The
	// archive keys mail by Message-ID, so such messages are rejected.
	ErrNoMessageID = errors.New("message has no Message-ID header")

	// ErrNoDate reports a message whose Date header is absent or
	// unparseable.
	ErrNoDate = errors.New("message has no parseable Date header")
)

// Part is one MIME part scrubbed out of a message. Numbers follow the
// pre-order position of the node in the MIME tree, containers included, so
// they are stable across re-parses of the same message.
type Part struct {
	Number int
	// Name is the part's filename, empty when the part declared none.
	Name string
	// Type is the declared media type, lowercased, without parameters.
	Type string
	// Code is the declared charset, empty when the part declared none.
	Code string
	// Payload is the transfer-decoded content.
	Payload []byte
	// Textual reports that the parser already converted the payload to
	// UTF-8 text (text/* parts with a known charset).
	Textual bool
}

// Message is a parsed raw message ready for ingest.
type Message struct {
	ID    string
	Date  time.Time
	Text  string
	Raw   []byte
	Parts []Part
}

// Parse scrubs a raw RFC 5322 message. The plaintext body is assembled from
// the inline text/plain parts; every other content-bearing part becomes a
// numbered Part. Messages without a Message-ID or a parseable Date are
// rejected.
func Parse(raw []byte) (*Message, error) {
	root, err := enmime.ReadParts(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	id := strings.Trim(strings.TrimSpace(root.Header.Get("Message-Id")), "<>")
	if id == "" {
		return nil, ErrNoMessageID
	}
	date, err := mail.ParseDate(root.Header.Get("Date"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrNoDate, root.Header.Get("Date"))
	}

	msg := &Message{ID: id, Date: date, Raw: raw}

	var text strings.Builder
	number := 0
	var walk func(p *enmime.Part)
	walk = func(p *enmime.Part) {
		scrubPart(msg, &text, number, p)
		number++
		for child := p.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	// The parser passes mislabeled bodies through undecoded; the stored
	// text column is always valid UTF-8.
	msg.Text = textutil.SanitizeUTF8(strings.TrimSpace(text.String()))
	return msg, nil
}

// scrubPart classifies one MIME node: inline text/plain feeds the body,
// multipart containers are numbered but skipped, everything else with
// content becomes a part.
func scrubPart(msg *Message, text *strings.Builder, number int, p *enmime.Part) {
	ctype := strings.ToLower(p.ContentType)
	switch {
	case strings.HasPrefix(ctype, "multipart/"):
		return
	case ctype == "text/plain" && !strings.EqualFold(p.Disposition, "attachment"):
		text.Write(p.Content)
		text.WriteString("\n")
		return
	case ctype == "text/html":
		name := p.FileName
		if name == "" {
			name = "attachment.html"
		}
		msg.Parts = append(msg.Parts, Part{
			Number:  number,
			Name:    name,
			Type:    ctype,
			Code:    strings.ToLower(p.Charset),
			Payload: p.Content,
			Textual: true,
		})
		return
	case len(p.Content) == 0 && ctype != "message/rfc822":
		return
	}

	msg.Parts = append(msg.Parts, Part{
		Number:  number,
		Name:    p.FileName,
		Type:    ctype,
		Code:    strings.ToLower(p.Charset),
		Payload: p.Content,
		Textual: strings.HasPrefix(ctype, "text/"),
	})
}
