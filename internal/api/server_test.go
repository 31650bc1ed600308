package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kaimel/archiver/internal/config"
	"github.com/kaimel/archiver/internal/resource"
	"github.com/kaimel/archiver/internal/store"
	"github.com/kaimel/archiver/internal/testutil/email"
)

const testSecret = "test-secret"

// testLogger returns a logger for tests that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStore serves a single consumer (id 1) from in-memory maps. A mail
// present in mails is one the consumer holds a dispatch for.
type mockStore struct {
	consumers map[int64]*store.Consumer
	mails     map[string]*store.Mail
	atts      map[string][]store.AttachmentMeta
	handles   map[string]*mockHandle
}

func newMockStore() *mockStore {
	return &mockStore{
		consumers: map[int64]*store.Consumer{1: {ID: 1, Name: "alerts"}},
		mails:     map[string]*store.Mail{},
		atts:      map[string][]store.AttachmentMeta{},
		handles:   map[string]*mockHandle{},
	}
}

func (m *mockStore) MailForConsumer(ctx context.Context, consumerID int64, id string, projection store.MailProjection) (*store.Mail, []store.AttachmentMeta, error) {
	mail, ok := m.mails[id]
	if !ok {
		return nil, nil, nil
	}
	if projection == store.MailFull {
		return mail, m.atts[id], nil
	}
	return mail, nil, nil
}

func (m *mockStore) MailExistsForConsumer(ctx context.Context, consumerID int64, id string) (bool, error) {
	_, ok := m.mails[id]
	return ok, nil
}

func (m *mockStore) AttachmentForConsumer(ctx context.Context, consumerID int64, mailID string, number int) (store.AttachmentHandle, error) {
	h, ok := m.handles[attachmentKey(mailID, number)]
	if !ok {
		return nil, nil
	}
	return h, nil
}

func (m *mockStore) DeleteDispatch(ctx context.Context, consumerID int64, mailID string) (int64, error) {
	if _, ok := m.mails[mailID]; !ok {
		return 0, nil
	}
	delete(m.mails, mailID)
	return 1, nil
}

func (m *mockStore) ConsumerByID(ctx context.Context, id int64) (*store.Consumer, error) {
	return m.consumers[id], nil
}

func attachmentKey(mailID string, number int) string {
	return fmt.Sprintf("%s/%d", mailID, number)
}

// mockHandle is an attachment handle with no lock behind it.
type mockHandle struct {
	meta     store.AttachmentMeta
	data     []byte
	released bool
}

func (h *mockHandle) Meta() *store.AttachmentMeta { return &h.meta }

func (h *mockHandle) Data(ctx context.Context) ([]byte, error) { return h.data, nil }

func (h *mockHandle) Release(ctx context.Context) { h.released = true }

// mockFeed replays canned batches and streams.
type mockFeed struct {
	batch  []*resource.Mail
	stream []*resource.Mail
}

func (f *mockFeed) Batch(ctx context.Context, consumerID int64, urls *resource.URLBuilder) ([]*resource.Mail, error) {
	if f.batch == nil {
		return []*resource.Mail{}, nil
	}
	return f.batch, nil
}

func (f *mockFeed) Stream(ctx context.Context, consumerID int64, urls *resource.URLBuilder, emit func(*resource.Mail) error) error {
	for _, m := range f.stream {
		if err := emit(m); err != nil {
			return err
		}
	}
	// A finished client looks like a cancelled request context.
	return context.Canceled
}

func newTestServer(st ArchiveStore, feed MailFeed) *Server {
	cfg := &config.Config{}
	cfg.Auth.Secret = testSecret
	return NewServer(cfg, st, feed, testLogger())
}

func mintToken(t *testing.T, method jwt.SigningMethod, secret, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validToken(t *testing.T) string {
	return mintToken(t, jwt.SigningMethodHS256, testSecret, "consumer_id=1", time.Hour)
}

func doRequest(srv *Server, method, path, accept, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func seedMail(st *mockStore, id string) []byte {
	raw := email.NewMessage().
		Header("Message-ID", "<"+id+">").
		Subject("Seeded").
		Body("The body.").
		Bytes()
	st.mails[id] = &store.Mail{
		ID:   id,
		Date: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Text: "The body.",
		Data: raw,
	}
	return raw
}

func seedAttachment(st *mockStore, mailID string, number int, name, typ string, code *string, data []byte) *mockHandle {
	h := &mockHandle{
		meta: store.AttachmentMeta{MailID: mailID, Number: number, Name: &name, Type: typ, Code: code},
		data: data,
	}
	st.handles[attachmentKey(mailID, number)] = h
	st.atts[mailID] = append(st.atts[mailID], h.meta)
	return h
}

func strptr(s string) *string { return &s }

func TestHealthNeedsNoAuth(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	w := doRequest(srv, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestUnroutedPathSkipsAuth(t *testing.T) {
	srv := newTestServer(newMockStore(), &mockFeed{})

	w := doRequest(srv, http.MethodGet, "/nothing/here", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want plain 404", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "" {
		t.Errorf("unrouted 404 carries a challenge: %q", got)
	}
}
