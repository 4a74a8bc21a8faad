// Package middleware holds the Gin middleware shared by the HTTP layer:
// request ids, access logging, panic recovery, PII redaction, security
// headers, Prometheus instrumentation, rate limiting, and Idempotency-Key
// handling.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-backend/internal/sysutil"
)

// HeaderIdempotencyKey is the header clients send on POST /chat so that a
// retried request reuses the stored outcome instead of running the pipeline
// again. The value must stay stable across retries of the same operation.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys for idempotency state, read through the accessors below.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by
// IdempotencyValidator. Handlers read it from here rather than re-parsing
// the header.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the middleware found a stored result for this
// request's key. The handler decides what serving a replay means; the
// middleware only flags it.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions tunes header validation. TTL enforcement belongs to
// the lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil selects a token-style
	// pattern: letters, digits, and ._~-: punctuation.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a completed, unexpired result exists
// for (customerID, conversationID, key) at now. Lookup errors must not
// block fresh processing, so implementations return them only for real
// storage failures and the middleware ignores them.
type IdempotencyLookup func(ctx context.Context, customerID, conversationID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates an Idempotency-Key header when one is
// present, stashes the key in the context, and consults the lookup for a
// stored result. A hit sets the replay flag plus a rate-limit bypass, since
// serving a replay costs no model calls. Requests without the header pass
// through untouched; a malformed key is rejected with 400 before any
// handler runs.
//
// The conversation id is taken from the conversation_id query parameter,
// falling back to the :id path parameter. The chat request body also
// carries it, but the middleware deliberately does not read bodies.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			conversationID := c.Query("conversation_id")
			if conversationID == "" {
				conversationID = c.Param("id")
			}
			exists, _ := lookup(c.Request.Context(), customerIDFromCtx(c), conversationID, key, time.Now().UTC())
			if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// customerIDFromCtx resolves the acting customer: the context value set by
// upstream auth, then the X-Customer-ID header, then the demo fallback.
func customerIDFromCtx(c *gin.Context) string {
	var fromCtx string
	if v, ok := c.Get("customerID"); ok {
		fromCtx, _ = v.(string)
	}
	return sysutil.FirstNonEmpty(fromCtx, c.GetHeader("X-Customer-ID"), "demo-customer")
}
