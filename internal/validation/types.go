package validation

// RequeueRequest is the payload for POST /admin/dlq/:id/requeue
type RequeueRequest struct {
	TenantSchema *string `json:"tenant_schema,omitempty" validate:"omitempty,schema_name"` // replaces the payload tenant schema
	TenantID     *int64  `json:"tenant_id,omitempty" validate:"omitempty,gt=0"`
}

// BulkRequeueRequest is the payload for POST /admin/dlq/requeue
type BulkRequeueRequest struct {
	IDs          []int64 `json:"ids" validate:"required,min=1,max=500,unique,dive,gt=0"`
	TenantSchema *string `json:"tenant_schema,omitempty" validate:"omitempty,schema_name"`
	TenantID     *int64  `json:"tenant_id,omitempty" validate:"omitempty,gt=0"`
}

// PurgeRequest is the payload for POST /admin/dlq/purge
type PurgeRequest struct {
	Target     string         `json:"target,omitempty" validate:"omitempty,oneof=audit dead_letters all"`
	Days       *int           `json:"days,omitempty" validate:"omitempty,gt=0"`                                    // replaces the default retention
	TenantDays map[string]int `json:"tenant_days,omitempty" validate:"omitempty,dive,keys,schema_name,endkeys,gt=0"` // per tenant overrides
}

// RetentionPolicyRequest is the payload for PUT /admin/retention
type RetentionPolicyRequest struct {
	TenantSchema string `json:"tenant_schema" validate:"omitempty,schema_name"` // empty sets the global policy
	Days         int    `json:"days" validate:"required,gt=0,lte=3650"`
}

// ListDeadLettersQuery is the query string for GET /admin/dlq
type ListDeadLettersQuery struct {
	TenantSchema string `form:"tenant_schema" validate:"omitempty,schema_name"`
	Event        string `form:"event" validate:"omitempty,max=128"`
	Limit        int    `form:"limit" validate:"omitempty,gte=1,lte=500"`
}
