package validation

import (
	"regexp"

	validatorv10 "github.com/go-playground/validator/v10"
)

// postgres identifiers as issued by the tenant provisioner
var schemaNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// New returns a configured validator with the custom rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("schema_name", func(fl validatorv10.FieldLevel) bool {
		return schemaNamePattern.MatchString(fl.Field().String())
	})

	// a tenant id is meaningless without the schema it belongs to
	v.RegisterStructValidation(requeueStructValidation, RequeueRequest{})
	v.RegisterStructValidation(bulkRequeueStructValidation, BulkRequeueRequest{})

	return v
}

func requeueStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RequeueRequest)
	checkTenantPair(sl, req.TenantSchema, req.TenantID)
}

func bulkRequeueStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(BulkRequeueRequest)
	checkTenantPair(sl, req.TenantSchema, req.TenantID)
}

func checkTenantPair(sl validatorv10.StructLevel, schema *string, id *int64) {
	if id != nil && (schema == nil || *schema == "") {
		sl.ReportError(id, "tenant_id", "TenantID", "tenant_id_requires_schema", "")
	}
}
