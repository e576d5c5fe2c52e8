package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/events"
	"github.com/imrishuroy/go-webhook-relay/internal/metrics"
	"github.com/imrishuroy/go-webhook-relay/internal/signature"
	"github.com/imrishuroy/go-webhook-relay/internal/tenant"
)

// HeaderEventID carries the external event id for providers other than stripe.
const HeaderEventID = "X-Event-Id"

// maxBodyBytes caps webhook bodies.
const maxBodyBytes = 1 << 20

// IdempotencyChecker is the subset of idempotency.Guard the ingestor needs.
type IdempotencyChecker interface {
	CheckAndMark(ctx context.Context, provider, eventID string) bool
	Release(ctx context.Context, provider, eventID string)
}

// AuditAppender records audit entries in the canonical store.
type AuditAppender interface {
	AppendAudit(ctx context.Context, e audit.AuditEntry) audit.StoreResult
}

// WebhookConfig groups dependencies for the webhook ingestor.
type WebhookConfig struct {
	Secrets map[string]string
	MaxSkew time.Duration
	Guard   IdempotencyChecker
	Emitter events.Emitter
	Audit   AuditAppender
	Clock   clockwork.Clock
	Logger  *zap.Logger
}

// RegisterWebhookRoutes registers POST /webhooks/:provider.
func RegisterWebhookRoutes(r gin.IRouter, cfg WebhookConfig) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 300 * time.Second
	}
	ing := &ingestor{cfg: cfg}
	r.POST("/webhooks/:provider", ing.receive)
}

type ingestor struct {
	cfg WebhookConfig
}

func (i *ingestor) receive(c *gin.Context) {
	ctx := c.Request.Context()
	// secret keys are stored lowercased
	provider := strings.ToLower(c.Param("provider"))
	log := i.cfg.Logger.With(zap.String("provider", provider))

	respond := func(code int, body any) {
		metrics.WebhooksTotal.WithLabelValues(provider, strconv.Itoa(code)).Inc()
		c.JSON(code, body)
	}
	detail := func(code int, msg string) {
		respond(code, gin.H{"detail": msg})
	}

	secret := i.cfg.Secrets[provider]
	if secret == "" {
		detail(http.StatusNotImplemented, "Secret not configured")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("webhook body too large", zap.Int64("limit", tooLarge.Limit))
			detail(http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		detail(http.StatusBadRequest, "Unreadable body")
		return
	}

	now := i.cfg.Clock.Now()
	if ts := c.GetHeader(signature.HeaderTimestamp); ts != "" {
		if err := i.checkSkew(now, ts); err != nil {
			detail(http.StatusBadRequest, skewMessage(err))
			return
		}
	}

	var valid bool
	if provider == ProviderStripe {
		header, present := headerValue(c, signature.HeaderStripe)
		var ts *int64
		valid, ts = signature.VerifyTimestamped(secret, raw, header)
		if ts != nil {
			if err := signature.CheckSkew(now, *ts, i.cfg.MaxSkew); err != nil {
				detail(http.StatusBadRequest, skewMessage(err))
				return
			}
		}
		if !present {
			detail(http.StatusUnauthorized, "Missing Stripe-Signature")
			return
		}
	} else {
		sig := c.GetHeader(signature.HeaderSignature)
		if sig == "" {
			sig = c.GetHeader(signature.HeaderHubSignature)
		}
		if sig == "" {
			detail(http.StatusUnauthorized, "Missing signature")
			return
		}
		valid = signature.VerifyGeneric(secret, raw, sig)
	}

	h := tenant.FromGin(c)
	payload := parsePayload(raw)
	i.recordReceipt(c, provider, h, valid, payload)
	log.Info("webhook received",
		zap.Bool("valid", valid),
		zap.String("tenant_schema", h.Schema),
		zap.String("ip", clientIP(c)),
	)

	if !valid {
		detail(http.StatusUnauthorized, "Invalid signature")
		return
	}

	eventID := externalEventID(c, provider, payload)
	firstSeen := i.cfg.Guard.CheckAndMark(ctx, provider, eventID)

	if firstSeen {
		for _, evt := range MapWebhook(provider, payload, h) {
			if err := i.cfg.Emitter.Emit(ctx, evt.Name, evt.Payload); err != nil {
				// let the provider redeliver
				i.cfg.Guard.Release(ctx, provider, eventID)
				log.Error("dispatch failed", zap.String("event", evt.Name), zap.String("event_id", eventID), zap.Error(err))
				detail(http.StatusInternalServerError, "Event dispatch failed")
				return
			}
		}
	} else {
		log.Info("duplicate webhook suppressed", zap.String("event_id", eventID))
	}

	respond(http.StatusOK, gin.H{"data": gin.H{"ok": true, "idempotent": !firstSeen}})
}

func (i *ingestor) checkSkew(now time.Time, raw string) error {
	ts, err := signature.ParseTimestamp(raw)
	if err != nil {
		return err
	}
	return signature.CheckSkew(now, ts, i.cfg.MaxSkew)
}

// recordReceipt is best effort; a failed write is logged by the store.
func (i *ingestor) recordReceipt(c *gin.Context, provider string, h tenant.Handle, valid bool, payload map[string]any) {
	status := http.StatusOK
	if !valid {
		status = http.StatusUnauthorized
	}
	if i.cfg.Audit == nil {
		return
	}
	i.cfg.Audit.AppendAudit(c.Request.Context(), audit.AuditEntry{
		Path:         c.Request.URL.Path,
		Method:       c.Request.Method,
		Source:       audit.SourceWebhook,
		Action:       "webhook_" + provider,
		StatusCode:   &status,
		TenantSchema: h.Schema,
		TenantID:     h.ID,
		IP:           clientIP(c),
		Payload:      payload,
	})
}

func skewMessage(err error) string {
	if errors.Is(err, signature.ErrTimestampSkew) {
		return "Timestamp skew too large"
	}
	return "Invalid timestamp"
}

// headerValue distinguishes an absent header from an empty one.
func headerValue(c *gin.Context, name string) (string, bool) {
	values, ok := c.Request.Header[http.CanonicalHeaderKey(name)]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// parsePayload returns nil for bodies that are not a JSON object. Numbers are kept
// as json.Number so large ids survive unchanged.
func parsePayload(raw []byte) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil
	}
	return payload
}

func externalEventID(c *gin.Context, provider string, payload map[string]any) string {
	if provider != ProviderStripe {
		if id := strings.TrimSpace(c.GetHeader(HeaderEventID)); id != "" {
			return id
		}
	}
	switch id := payload["id"].(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// clientIP is the first X-Forwarded-For hop, else whatever gin resolves.
func clientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	return c.ClientIP()
}
