package resource

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kaimel/archiver/internal/store"
	"github.com/kaimel/archiver/internal/testutil"
	"github.com/kaimel/archiver/internal/testutil/email"
)

func storedMail(t *testing.T, raw []byte) *store.Mail {
	t.Helper()
	return &store.Mail{
		ID:   "stored-1@example.com",
		Date: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Text: "The body.",
		Data: raw,
	}
}

func TestLoadMailAddressHeaders(t *testing.T) {
	raw := email.NewMessage().
		From(`"Alice A" <alice@example.com>, bob@example.com, "Alice A" <alice@example.com>`).
		To(`carol@example.com`).
		Cc(`"Dave D" <dave@example.com>`).
		Header("Sender", `"Alice A" <alice@example.com>`).
		Header("Reply-To", `replies@example.com`).
		Header("In-Reply-To", `<parent-1@example.com>`).
		Header("References", `<root-1@example.com> <parent-1@example.com>`).
		Subject("A subject  ").
		Bytes()

	res, err := LoadMail(storedMail(t, raw), nil, nil)
	if err != nil {
		t.Fatalf("LoadMail: %v", err)
	}

	wantFrom := []Target{
		{Name: "Alice A", AddrSpec: "alice@example.com"},
		{Name: "", AddrSpec: "bob@example.com"},
	}
	if diff := cmp.Diff(wantFrom, res.From); diff != "" {
		t.Errorf("From mismatch (-want +got):\n%s", diff)
	}
	if res.Sender == nil || res.Sender.AddrSpec != "alice@example.com" {
		t.Errorf("Sender = %v", res.Sender)
	}
	if diff := cmp.Diff([]Target{{AddrSpec: "carol@example.com"}}, res.To); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Target{{Name: "Dave D", AddrSpec: "dave@example.com"}}, res.Cc); diff != "" {
		t.Errorf("Cc mismatch (-want +got):\n%s", diff)
	}
	if res.Bcc != nil {
		t.Errorf("Bcc = %v, want nil for absent header", res.Bcc)
	}
	if diff := cmp.Diff([]Target{{AddrSpec: "replies@example.com"}}, res.ReplyTo); diff != "" {
		t.Errorf("ReplyTo mismatch (-want +got):\n%s", diff)
	}
	testutil.AssertStrings(t, res.InReplyTo, "parent-1@example.com")
	testutil.AssertStrings(t, res.References, "root-1@example.com", "parent-1@example.com")
	if res.Subject == nil || *res.Subject != "A subject" {
		t.Errorf("Subject = %v, want trimmed subject", res.Subject)
	}
}

func TestLoadMailAbsentHeadersAreNull(t *testing.T) {
	raw := email.NewMessage().NoSubject().Bytes()

	res, err := LoadMail(storedMail(t, raw), nil, nil)
	if err != nil {
		t.Fatalf("LoadMail: %v", err)
	}

	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	js := string(body)

	for _, want := range []string{
		`"bcc":null`,
		`"cc":null`,
		`"reply-to":null`,
		`"in-reply-to":null`,
		`"references":null`,
		`"subject":null`,
		`"sender":null`,
		`"self":null`,
		`"attachments":[]`,
	} {
		if !strings.Contains(js, want) {
			t.Errorf("serialized mail missing %s:\n%s", want, js)
		}
	}
}

func TestLoadMailSelfLinks(t *testing.T) {
	raw := email.NewMessage().Bytes()
	name := "notes.txt"
	code := "utf-8"
	atts := []store.AttachmentMeta{
		{MailID: "stored-1@example.com", Number: 2, Name: &name, Type: "text/plain", Code: &code},
	}

	urls := NewURLBuilder("https://archive.example.com")
	res, err := LoadMail(storedMail(t, raw), atts, urls)
	if err != nil {
		t.Fatalf("LoadMail: %v", err)
	}

	if res.Self == nil || *res.Self != "https://archive.example.com/mail/stored-1@example.com" {
		t.Errorf("Self = %v", res.Self)
	}
	if len(res.Attachments) != 1 {
		t.Fatalf("attachments = %v", res.Attachments)
	}
	a := res.Attachments[0]
	if a.Self == nil || *a.Self != "https://archive.example.com/mail/stored-1@example.com/attachment/2" {
		t.Errorf("attachment Self = %v", a.Self)
	}
	if a.Name == nil || *a.Name != "notes.txt" || a.Type != "text/plain" || a.Code == nil || *a.Code != "utf-8" {
		t.Errorf("attachment = %+v", a)
	}
}

func TestLoadMailWireAliases(t *testing.T) {
	raw := email.NewMessage().
		Header("Reply-To", "replies@example.com").
		Header("In-Reply-To", "<parent-1@example.com>").
		Bytes()

	res, err := LoadMail(storedMail(t, raw), nil, nil)
	if err != nil {
		t.Fatalf("LoadMail: %v", err)
	}
	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	js := string(body)

	for _, want := range []string{`"reply-to":[`, `"in-reply-to":[`, `"addr_spec":"replies@example.com"`} {
		if !strings.Contains(js, want) {
			t.Errorf("serialized mail missing %s:\n%s", want, js)
		}
	}
	if strings.Contains(js, `"ReplyTo"`) || strings.Contains(js, `"reply_to"`) {
		t.Errorf("serialized mail leaks Go field names:\n%s", js)
	}
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<id@example.com>", "id@example.com"},
		{`"quoted"`, "quoted"},
		{`"with \"inner\""`, `with "inner"`},
		{`"a\\b"`, `a\b`},
		// An escaped backslash before a closing quote keeps both bytes.
		{`"\\""`, `\"`},
		{"bare", "bare"},
		{"<", "<"},
	}
	for _, tt := range tests {
		if got := unquote(tt.in); got != tt.want {
			t.Errorf("unquote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestURLBuilderNil(t *testing.T) {
	var b *URLBuilder
	if b.MailURL("x") != nil {
		t.Error("nil builder must render nil mail links")
	}
	if b.AttachmentURL("x", 1) != nil {
		t.Error("nil builder must render nil attachment links")
	}
}

func TestURLBuilderEscapesMailID(t *testing.T) {
	b := NewURLBuilder("")
	got := b.MailURL("id with space@example.com")
	if got == nil || *got != "/mail/id%20with%20space@example.com" {
		t.Errorf("MailURL = %v", got)
	}
}
