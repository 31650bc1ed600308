package api

import (
	"net/http"
	"strings"

	"github.com/elnormous/contenttype"
)

// negotiate picks the best of the available media types for the request's
// Accept header. An absent or empty header selects application/json, the
// default rendition on every endpoint; wildcard ranges match the available
// types in order. A false ok means nothing acceptable.
func negotiate(r *http.Request, available []contenttype.MediaType) (contenttype.MediaType, bool) {
	if strings.TrimSpace(r.Header.Get("Accept")) == "" {
		return contenttype.NewMediaType("application/json"), true
	}
	mt, _, err := contenttype.GetAcceptableMediaType(r, available)
	if err != nil {
		return contenttype.MediaType{}, false
	}
	return mt, true
}

// mediaTypes builds a negotiation list from media type strings.
func mediaTypes(types ...string) []contenttype.MediaType {
	list := make([]contenttype.MediaType, len(types))
	for i, t := range types {
		list[i] = contenttype.NewMediaType(t)
	}
	return list
}

// isType reports whether mt is exactly the given "type/subtype".
func isType(mt contenttype.MediaType, full string) bool {
	base, sub, _ := strings.Cut(full, "/")
	return mt.Type == base && mt.Subtype == sub
}
