package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-webhook-relay/internal/audit"
	"github.com/imrishuroy/go-webhook-relay/internal/events"
	"github.com/imrishuroy/go-webhook-relay/internal/validation"
)

const defaultListLimit = 100

// DeadLetterAdmin is the canonical store surface used by the admin routes.
type DeadLetterAdmin interface {
	ListDeadLetters(ctx context.Context, f audit.DeadLetterFilter) ([]audit.DeadLetterEntry, error)
	SummarizeDeadLetters(ctx context.Context) (audit.DeadLetterSummary, error)
	ResolvePolicy(ctx context.Context, base audit.RetentionPolicy) (audit.RetentionPolicy, error)
	PurgeOlderThan(ctx context.Context, target audit.Target, policy audit.RetentionPolicy) (audit.PurgeResult, error)
	SetRetentionPolicy(ctx context.Context, schema string, days int) error
}

// DeadLetterRequeuer re-emits stored dead letters.
type DeadLetterRequeuer interface {
	Requeue(ctx context.Context, id int64, o events.RequeueOverrides) (events.Envelope, error)
	RequeueMany(ctx context.Context, ids []int64, o events.RequeueOverrides) (int, error)
}

// AdminConfig groups dependencies for the dead letter admin routes.
type AdminConfig struct {
	Store    DeadLetterAdmin
	Requeuer DeadLetterRequeuer

	// configured retention before stored overrides apply
	DeadLetterRetention audit.RetentionPolicy
	AuditRetention      audit.RetentionPolicy

	// Authorize guards every admin route. Nil leaves them open.
	Authorize gin.HandlerFunc
	Logger    *zap.Logger
}

// RegisterAdminRoutes registers the /admin group.
func RegisterAdminRoutes(r gin.IRouter, cfg AdminConfig) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	v := validation.New()
	a := &admin{cfg: cfg}

	g := r.Group("/admin")
	if cfg.Authorize != nil {
		g.Use(cfg.Authorize)
	}

	g.GET("/dlq", func(c *gin.Context) {
		var q validation.ListDeadLettersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		a.list(c, q)
	})

	g.POST("/dlq/:id/requeue", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
			return
		}
		var req validation.RequeueRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		a.requeue(c, id, events.RequeueOverrides{TenantSchema: req.TenantSchema, TenantID: req.TenantID})
	})

	g.POST("/dlq/requeue", func(c *gin.Context) {
		var req validation.BulkRequeueRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		n, err := cfg.Requeuer.RequeueMany(c.Request.Context(), req.IDs, events.RequeueOverrides{TenantSchema: req.TenantSchema, TenantID: req.TenantID})
		body := gin.H{"requeued": n, "requested": len(req.IDs)}
		if err != nil {
			body["errors"] = strings.Split(err.Error(), "\n")
			c.JSON(http.StatusMultiStatus, gin.H{"data": body})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": body})
	})

	g.POST("/dlq/purge", func(c *gin.Context) {
		var req validation.PurgeRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		a.purge(c, req)
	})

	g.PUT("/retention", func(c *gin.Context) {
		var req validation.RetentionPolicyRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		if err := cfg.Store.SetRetentionPolicy(c.Request.Context(), req.TenantSchema, req.Days); err != nil {
			cfg.Logger.Error("set retention policy failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": req})
	})
}

type admin struct {
	cfg AdminConfig
}

func (a *admin) list(c *gin.Context, q validation.ListDeadLettersQuery) {
	ctx := c.Request.Context()
	if q.Limit == 0 {
		q.Limit = defaultListLimit
	}
	entries, err := a.cfg.Store.ListDeadLetters(ctx, audit.DeadLetterFilter{
		TenantSchema: q.TenantSchema,
		EventName:    q.Event,
		Limit:        q.Limit,
	})
	if err != nil {
		a.cfg.Logger.Error("list dead letters failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed", "detail": err.Error()})
		return
	}
	summary, err := a.cfg.Store.SummarizeDeadLetters(ctx)
	if err != nil {
		a.cfg.Logger.Error("summarize dead letters failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed", "detail": err.Error()})
		return
	}
	if entries == nil {
		entries = []audit.DeadLetterEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"items": entries, "summary": summary}})
}

func (a *admin) requeue(c *gin.Context, id int64, o events.RequeueOverrides) {
	env, err := a.cfg.Requeuer.Requeue(c.Request.Context(), id, o)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	case err != nil:
		a.cfg.Logger.Error("requeue failed", zap.Int64("dead_letter_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "requeue_failed", "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"requeued": true, "envelope_id": env.ID, "event": env.Name}})
}

// purge applies configured retention, then stored overrides, then the request.
func (a *admin) purge(c *gin.Context, req validation.PurgeRequest) {
	ctx := c.Request.Context()

	var targets []audit.Target
	switch req.Target {
	case "", string(audit.TargetDeadLetters):
		targets = []audit.Target{audit.TargetDeadLetters}
	case string(audit.TargetAudit):
		targets = []audit.Target{audit.TargetAudit}
	default:
		targets = []audit.Target{audit.TargetDeadLetters, audit.TargetAudit}
	}

	results := make([]audit.PurgeResult, 0, len(targets))
	for _, target := range targets {
		base := a.cfg.DeadLetterRetention
		if target == audit.TargetAudit {
			base = a.cfg.AuditRetention
		}
		policy, err := a.cfg.Store.ResolvePolicy(ctx, base)
		if err != nil {
			a.cfg.Logger.Error("load retention policies failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store_failed", "detail": err.Error()})
			return
		}
		policy = policy.Merge(req.Days, req.TenantDays)

		res, err := a.cfg.Store.PurgeOlderThan(ctx, target, policy)
		if err != nil {
			a.cfg.Logger.Error("purge failed", zap.String("target", string(target)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "purge_failed", "detail": err.Error()})
			return
		}
		results = append(results, res)
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

// AdminToken guards routes with a static bearer token. An empty token rejects everything.
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
