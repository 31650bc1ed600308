package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kaimel/archiver/internal/resource"
	"github.com/kaimel/archiver/internal/store"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// writeNotFound is the one shape of 404 the mail endpoints produce. A mail
// that does not exist and a mail the consumer holds no dispatch for are
// indistinguishable on purpose.
func writeNotFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not_found", "No such mail")
}

// urlParam returns a path parameter with percent-escapes resolved.
func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

// urls builds the self-link builder for one request: the configured base
// URL when set, the request's own host otherwise.
func (s *Server) urls(r *http.Request) *resource.URLBuilder {
	base := s.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return resource.NewURLBuilder(base)
}

// handleGetMail serves a single mail, negotiated over JSON, plain text, and
// the original RFC 5322 bytes.
func (s *Server) handleGetMail(w http.ResponseWriter, r *http.Request) {
	consumer := consumerFrom(r)
	id := urlParam(r, "id")

	mt, ok := negotiate(r, mediaTypes("application/json", "text/plain", "message/rfc822"))
	if !ok {
		// 406 only after the authorization check passes; an unacceptable
		// Accept must not leak whether the mail exists.
		exists, err := s.store.MailExistsForConsumer(r.Context(), consumer.ID, id)
		if err != nil {
			s.logger.Error("mail lookup failed", "mail", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Mail lookup failed")
			return
		}
		if !exists {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusNotAcceptable, "not_acceptable", "No acceptable media type")
		return
	}

	if isType(mt, "application/json") {
		mail, atts, err := s.store.MailForConsumer(r.Context(), consumer.ID, id, store.MailFull)
		if err != nil {
			s.logger.Error("mail lookup failed", "mail", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Mail lookup failed")
			return
		}
		if mail == nil {
			writeNotFound(w)
			return
		}
		res, err := resource.LoadMail(mail, atts, s.urls(r))
		if err != nil {
			s.logger.Error("materialize failed", "mail", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Mail could not be rendered")
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	// text/plain and message/rfc822 both serve the stored raw bytes.
	mail, _, err := s.store.MailForConsumer(r.Context(), consumer.ID, id, store.MailData)
	if err != nil {
		s.logger.Error("mail lookup failed", "mail", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Mail lookup failed")
		return
	}
	if mail == nil {
		writeNotFound(w)
		return
	}
	contentType := mt.Type + "/" + mt.Subtype
	if isType(mt, "text/plain") {
		contentType += "; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(mail.Data)
}

// handleDeleteMail removes the consumer's dispatch for a mail, after which
// the mail is gone from that consumer's view of the archive.
func (s *Server) handleDeleteMail(w http.ResponseWriter, r *http.Request) {
	consumer := consumerFrom(r)
	id := urlParam(r, "id")

	n, err := s.store.DeleteDispatch(r.Context(), consumer.ID, id)
	if err != nil {
		s.logger.Error("dispatch delete failed", "mail", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Dispatch delete failed")
		return
	}
	if n == 0 {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleGetAttachment serves one attachment, negotiated over its native
// type, JSON metadata, plain text for text parts, and raw bytes. The store
// holds a shared lock on the row until the response body is written.
func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	consumer := consumerFrom(r)
	mailID := urlParam(r, "id")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeNotFound(w)
		return
	}

	handle, err := s.store.AttachmentForConsumer(r.Context(), consumer.ID, mailID, number)
	if err != nil {
		s.logger.Error("attachment lookup failed", "mail", mailID, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Attachment lookup failed")
		return
	}
	if handle == nil {
		writeNotFound(w)
		return
	}
	defer handle.Release(r.Context())
	meta := handle.Meta()

	// The native rendition leads so a wildcard Accept picks it; an absent
	// Accept still defaults to the JSON metadata.
	available := []string{meta.Type}
	if meta.Type != "application/json" {
		available = append(available, "application/json")
	}
	if isTextType(meta.Type) && meta.Type != "text/plain" {
		available = append(available, "text/plain")
	}
	if meta.Type != "application/octet-stream" {
		available = append(available, "application/octet-stream")
	}

	mt, ok := negotiate(r, mediaTypes(available...))
	if !ok {
		writeError(w, http.StatusNotAcceptable, "not_acceptable", "No acceptable media type")
		return
	}

	if isType(mt, "application/json") {
		writeJSON(w, http.StatusOK, resource.LoadAttachment(meta, s.urls(r)))
		return
	}

	data, err := handle.Data(r.Context())
	if err != nil {
		s.logger.Error("attachment data load failed", "mail", mailID, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Attachment load failed")
		return
	}

	contentType := mt.Type + "/" + mt.Subtype
	switch {
	case isType(mt, "application/octet-stream"):
		// raw bytes, no charset
	case meta.Code != nil:
		contentType += "; charset=" + *meta.Code
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// handleFeed serves the consumer's feed: a buffered JSON array of every due
// mail, or a long-lived NDJSON stream that keeps delivering as new mail
// arrives.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	consumer := consumerFrom(r)

	mt, ok := negotiate(r, mediaTypes("application/json", "application/x-ndjson"))
	if !ok {
		writeError(w, http.StatusNotAcceptable, "not_acceptable", "No acceptable media type")
		return
	}
	urls := s.urls(r)

	if isType(mt, "application/json") {
		mails, err := s.feed.Batch(r.Context(), consumer.ID, urls)
		if err != nil {
			s.logger.Error("batch delivery failed", "consumer", consumer.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "Delivery failed")
			return
		}
		writeJSON(w, http.StatusOK, mails)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	err := s.feed.Stream(r.Context(), consumer.ID, urls, func(m *resource.Mail) error {
		if err := enc.Encode(m); err != nil {
			return err
		}
		return rc.Flush()
	})
	// Client disconnects surface as context cancellation; that is the
	// normal end of a streaming session.
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("stream aborted", "consumer", consumer.ID, "error", err)
	}
}

func isTextType(t string) bool {
	return len(t) > 5 && t[:5] == "text/"
}
