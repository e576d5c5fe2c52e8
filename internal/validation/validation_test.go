package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }
func intPtr(n int) *int       { return &n }

func TestRequeueRequest_Valid(t *testing.T) {
	v := New()

	cases := []RequeueRequest{
		{},
		{TenantSchema: strPtr("acme")},
		{TenantSchema: strPtr("acme_2"), TenantID: int64Ptr(7)},
	}
	for _, req := range cases {
		if err := v.Struct(req); err != nil {
			t.Fatalf("expected valid %+v, got error: %v", req, err)
		}
	}
}

func TestRequeueRequest_TenantIDNeedsSchema(t *testing.T) {
	v := New()

	req := RequeueRequest{TenantID: int64Ptr(7)}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for tenant id without schema, got nil")
	}

	bulk := BulkRequeueRequest{IDs: []int64{1}, TenantID: int64Ptr(7), TenantSchema: strPtr("")}
	if err := v.Struct(bulk); err == nil {
		t.Fatal("expected validation error for bulk tenant id without schema, got nil")
	}
}

func TestRequeueRequest_BadSchemaName(t *testing.T) {
	v := New()

	for _, name := range []string{"Acme", "1acme", "acme-corp", "public; drop table"} {
		if err := v.Struct(RequeueRequest{TenantSchema: strPtr(name)}); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}

func TestBulkRequeueRequest(t *testing.T) {
	v := New()

	if err := v.Struct(BulkRequeueRequest{IDs: []int64{1, 2, 3}}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if err := v.Struct(BulkRequeueRequest{}); err == nil {
		t.Fatal("expected error for missing ids")
	}
	if err := v.Struct(BulkRequeueRequest{IDs: []int64{1, 1}}); err == nil {
		t.Fatal("expected error for duplicate ids")
	}
}

func TestPurgeRequest(t *testing.T) {
	v := New()

	ok := PurgeRequest{Target: "dead_letters", Days: intPtr(30), TenantDays: map[string]int{"acme": 7}}
	if err := v.Struct(ok); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	bad := []PurgeRequest{
		{Target: "everything"},
		{Days: intPtr(0)},
		{TenantDays: map[string]int{"acme": 0}},
		{TenantDays: map[string]int{"Not Valid": 5}},
	}
	for _, req := range bad {
		if err := v.Struct(req); err == nil {
			t.Fatalf("expected %+v to be rejected", req)
		}
	}
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	run := func(body string) (*httptest.ResponseRecorder, error) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var req PurgeRequest
		return w, BindAndValidate(c, &req, v)
	}

	if _, err := run(""); err != nil {
		t.Fatalf("empty body should be accepted: %v", err)
	}
	w, err := run("{")
	if err == nil || w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "invalid_request_body") {
		t.Fatalf("expected invalid_request_body, got %d %s", w.Code, w.Body.String())
	}
	w, err = run(`{"days":-1}`)
	if err == nil || !strings.Contains(w.Body.String(), "validation_failed") {
		t.Fatalf("expected validation_failed, got %d %s", w.Code, w.Body.String())
	}
}

func TestBindQueryAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?tenant_schema=acme&limit=10", nil)
	var q ListDeadLettersQuery
	if err := BindQueryAndValidate(c, &q, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TenantSchema != "acme" || q.Limit != 10 {
		t.Fatalf("query not bound: %+v", q)
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=1000", nil)
	if err := BindQueryAndValidate(c, &ListDeadLettersQuery{}, v); err == nil || w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit=1000, got %d", w.Code)
	}
}
