package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ligustah/shardstream/internal/media"
	"github.com/ligustah/shardstream/internal/stream"
)

var (
	// ErrMissingCode is returned when a request carries no access code.
	ErrMissingCode = errors.New("server: missing access code")

	// ErrWrongCode is returned when the access code does not match the object.
	ErrWrongCode = errors.New("server: wrong access code")
)

//go:embed templates/player.html
var templates embed.FS

var playerTemplate = template.Must(template.ParseFS(templates, "templates/player.html"))

func (s *Server) handleHome(c *gin.Context) {
	if s.cfg.HomeRedirect == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Redirect(http.StatusFound, s.cfg.HomeRedirect)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// lookup resolves the object of the request and checks its access code.
func (s *Server) lookup(c *gin.Context) (*media.Object, error) {
	code := c.Query("code")
	if code == "" {
		return nil, ErrMissingCode
	}
	obj, err := s.catalog.Lookup(c.Request.Context(), objectID(c))
	if err != nil {
		return nil, err
	}
	if !obj.Authorize(code) {
		return nil, ErrWrongCode
	}
	return obj, nil
}

func objectID(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("id"), "/")
}

// statusFor maps a request error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMissingCode):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWrongCode):
		return http.StatusForbidden
	case errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, stream.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrUnsatisfiableRange):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusBadGateway
	}
}

// reject ends the request with the status of err and no body.
func (s *Server) reject(c *gin.Context, err error) {
	status := statusFor(err)
	logger := s.requestLogger(c)
	ev := logger.Debug()
	if status == http.StatusBadGateway {
		ev = logger.Error()
	}
	ev.Err(err).Int("status", status).Str("id", objectID(c)).Msg("request rejected")
	c.AbortWithStatus(status)
}

func (s *Server) handleDownload(c *gin.Context) {
	obj, err := s.lookup(c)
	if err != nil {
		s.reject(c, err)
		return
	}

	r, partial, err := stream.ResolveRange(c.GetHeader("Range"), obj.Size)
	if err != nil {
		if errors.Is(err, stream.ErrUnsatisfiableRange) {
			for k, v := range stream.UnsatisfiableHeader(obj.Size) {
				c.Writer.Header()[k] = v
			}
		}
		s.reject(c, err)
		return
	}

	stream.BuildResponse(r, obj.View(), partial, s.cfg.CacheControl).Write(c.Writer)
	if c.Request.Method == http.MethodHead || r.Length() == 0 {
		return
	}

	logger := s.requestLogger(c).With().Str("id", obj.ID).Str("range", r.String()).Logger()
	a := stream.NewAssembler(obj, r, stream.AssemblerOptions{
		Pacer:   stream.NewPacer(s.pacing),
		Limiter: s.limiter(),
		Logger:  &logger,
	})

	start := time.Now()
	n, err := a.Stream(c.Request.Context(), c.Writer)
	logStream(logger, err, c.Request.Context().Err() != nil, n, r.Length(), time.Since(start))
}

// logStream records the outcome of a stream. gone reports whether the
// request context ended, which net/http does when the client goes away or a
// write to it fails.
func logStream(logger zerolog.Logger, err error, gone bool, sent, want int64, elapsed time.Duration) {
	var ev *zerolog.Event
	switch {
	case err == nil:
		ev = logger.Info()
	case gone, errors.Is(err, context.Canceled):
		ev = logger.Debug().Err(err).Str("reason", "client disconnected")
	default:
		// The headers are out; the connection is closed short of
		// Content-Length.
		ev = logger.Warn().Err(err)
	}
	ev.Int64("sent", sent).Int64("want", want).Dur("elapsed", elapsed).Msg("stream finished")
}

type playerData struct {
	Name     string
	MimeType string
	Kind     string // video, audio or image
	URL      string
}

func (s *Server) handlePlayer(c *gin.Context) {
	obj, err := s.lookup(c)
	if err != nil {
		s.reject(c, err)
		return
	}

	data := playerData{
		Name:     obj.Name,
		MimeType: obj.MimeType,
		Kind:     mediaKind(obj.MimeType),
		URL:      s.downloadURL(obj.ID, c.Query("code")),
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := s.player.Execute(c.Writer, data); err != nil {
		logger := s.requestLogger(c)
		logger.Error().Err(err).Msg("render player")
	}
}

func (s *Server) downloadURL(id, code string) string {
	u := url.URL{
		Path:     "/dl/" + id,
		RawQuery: url.Values{"code": {code}}.Encode(),
	}
	return strings.TrimSuffix(s.cfg.BaseURL, "/") + u.String()
}

func mediaKind(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	default:
		return "video"
	}
}
