package v1

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgzerolog "github.com/duynhne/pkg/logger/zerolog"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/duynhne/sync-gateway/internal/core/domain"
	logicv1 "github.com/duynhne/sync-gateway/internal/logic/v1"
	"github.com/duynhne/sync-gateway/middleware"
)

const (
	// RefreshedHeader tells the client its session cookie was rotated.
	RefreshedHeader = "X-Session-Refreshed"

	cookieMaxAge = 30 * 24 * 60 * 60
)

// exposedHeaders are the shape protocol response headers browsers may read.
var exposedHeaders = strings.Join([]string{
	"electric-cursor",
	"electric-handle",
	"electric-offset",
	"electric-schema",
	"electric-up-to-date",
	RefreshedHeader,
}, ", ")

// Authorizer resolves a credential and table into a scoped shape grant.
type Authorizer interface {
	Authorize(ctx context.Context, credential, table string) (*logicv1.ShapeGrant, error)
}

// Handler groups HTTP handlers for the sync gateway API v1.
// Dependencies are injected via the constructor, no global state.
type Handler struct {
	gateway    Authorizer
	shapes     domain.ShapeService
	cookieName string
}

// NewHandler creates a new Handler.
func NewHandler(gateway Authorizer, shapes domain.ShapeService, cookieName string) *Handler {
	return &Handler{
		gateway:    gateway,
		shapes:     shapes,
		cookieName: cookieName,
	}
}

// RegisterRoutes registers the gateway routes on the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/electric/proxy", h.ShapeProxy)
	rg.OPTIONS("/electric/proxy", h.Preflight)
}

// Preflight answers CORS preflight requests.
func (h *Handler) Preflight(c *gin.Context) {
	setCORSHeaders(c)
	c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
	c.Header("Access-Control-Max-Age", "600")
	c.Status(http.StatusNoContent)
}

// ShapeProxy authorizes the request and relays the scoped shape response.
// GET /electric/proxy?table=<name>&offset=...
// Cookie: <session cookie> or Authorization: Bearer <credential>
func (h *Handler) ShapeProxy(c *gin.Context) {
	ctx, span := middleware.StartSpan(c.Request.Context(), "http.request", trace.WithAttributes(
		attribute.String("layer", "web"),
		attribute.String("method", c.Request.Method),
		attribute.String("path", c.Request.URL.Path),
	))
	defer span.End()

	logger := pkgzerolog.FromContext(ctx)

	credential := h.credential(c)
	span.SetAttributes(attribute.Bool("auth.present", credential != ""))

	grant, err := h.gateway.Authorize(ctx, credential, c.Query("table"))
	if err != nil {
		span.RecordError(err)
		h.writeError(c, err)
		return
	}

	if grant.RefreshedCredential != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookieName, grant.RefreshedCredential, cookieMaxAge, "/", "", true, true)
		c.Header(RefreshedHeader, "true")
	}

	start := time.Now()
	resp, err := h.shapes.Fetch(ctx, domain.ShapeRequest{
		Table:        grant.Table,
		Where:        grant.Where,
		ClientParams: c.Request.URL.Query(),
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug().Msg("Client disconnected before shape response")
			middleware.UpstreamDuration.WithLabelValues("canceled").Observe(time.Since(start).Seconds())
			return
		}
		middleware.UpstreamDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		h.writeError(c, err)
		return
	}
	defer resp.Body.Close()
	middleware.UpstreamDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("upstream.status", resp.StatusCode))

	copyResponseHeaders(c.Writer.Header(), resp.Header)
	setCORSHeaders(c)
	c.Status(resp.StatusCode)

	written, err := stream(c.Writer, resp.Body)
	if err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Int64("bytes", written).Str("table", string(grant.Table)).Msg("Shape stream interrupted")
		return
	}
	logger.Debug().
		Str("user_id", grant.User.InternalUserID).
		Str("table", string(grant.Table)).
		Int("upstream_status", resp.StatusCode).
		Int64("bytes", written).
		Msg("Shape relayed")
}

// credential reads the session cookie, falling back to a bearer token.
func (h *Handler) credential(c *gin.Context) string {
	if v, err := c.Cookie(h.cookieName); err == nil && v != "" {
		return v
	}
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}
	return ""
}

func (h *Handler) writeError(c *gin.Context, err error) {
	gwErr := logicv1.AsGatewayError(err)
	logger := pkgzerolog.FromContext(c.Request.Context())

	event := logger.Warn()
	if gwErr.Status() >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(gwErr.Err).
		Str("kind", string(gwErr.Kind)).
		Str("code", gwErr.Code).
		Msg("Shape request rejected")

	setCORSHeaders(c)
	c.AbortWithStatusJSON(gwErr.Status(), gin.H{"error": gwErr})
}

func setCORSHeaders(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
	c.Header("Access-Control-Expose-Headers", exposedHeaders)
	c.Header("Vary", "Authorization, Cookie")
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// strippedHeaders no longer describe the body once it has been relayed.
var strippedHeaders = map[string]bool{
	"content-encoding": true,
	"content-length":   true,
	"set-cookie":       true,
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		lower := strings.ToLower(key)
		if hopByHopHeaders[lower] || strippedHeaders[lower] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// stream copies body to w, flushing after every chunk so live responses reach
// the client as they arrive.
func stream(w gin.ResponseWriter, body io.Reader) (int64, error) {
	buffer := make([]byte, 32*1024)
	var total int64
	for {
		n, err := body.Read(buffer)
		if n > 0 {
			written, writeErr := w.Write(buffer[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			w.Flush()
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
