package stream

import (
	"mime"
	"net/http"
	"strconv"
)

// Cache-Control presets accepted by BuildResponse.
const (
	CacheNoStore   = "no-store"
	CacheImmutable = "immutable"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// MediaView is the read-only metadata of an object needed to answer a request.
type MediaView struct {
	Name     string
	Size     int64
	MimeType string
}

// Response is the status and headers of a range response.
type Response struct {
	Status int
	Header http.Header
}

// Write copies the headers to w and sends the status line.
func (r Response) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, v := range r.Header {
		h[k] = v
	}
	w.WriteHeader(r.Status)
}

// CacheControl expands a preset into a Cache-Control value. Other values are
// returned unchanged and an empty policy means CacheNoStore.
func CacheControl(policy string) string {
	switch policy {
	case "", CacheNoStore:
		return CacheNoStore
	case CacheImmutable:
		return immutableCacheControl
	default:
		return policy
	}
}

// BuildResponse computes the status and headers for serving r of the object
// described by v.
func BuildResponse(r ByteRange, v MediaView, partial bool, cacheControl string) Response {
	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}

	contentType := v.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	disposition := "inline"
	if v.Name != "" {
		// Quotes only when the name needs them (RFC 2045 token rules);
		// a bare token is equivalent under RFC 6266.
		if d := mime.FormatMediaType("inline", map[string]string{"filename": v.Name}); d != "" {
			disposition = d
		}
	}

	h := make(http.Header)
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", disposition)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(r.Length(), 10))
	h.Set("Content-Range", r.String())
	h.Set("Cache-Control", CacheControl(cacheControl))
	h.Set("X-Accel-Buffering", "no")
	return Response{Status: status, Header: h}
}

// UnsatisfiableHeader returns the headers of a 416 response for an object of
// total bytes.
func UnsatisfiableHeader(total int64) http.Header {
	h := make(http.Header)
	h.Set("Content-Range", "bytes */"+strconv.FormatInt(total, 10))
	h.Set("Accept-Ranges", "bytes")
	return h
}
