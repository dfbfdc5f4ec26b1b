package logger

// Field keys shared by every stepflow log line.
const (
	FieldService     = "service"
	FieldComponent   = "component"
	FieldError       = "error"
	FieldDuration    = "duration_ms"
	FieldRun         = "run_id"
	FieldRunName     = "run_name"
	FieldPipeline    = "pipeline"
	FieldStep        = "step"
	FieldFingerprint = "fingerprint"
	FieldBackend     = "backend"
	FieldFrom        = "from"
	FieldTo          = "to"
	FieldReason      = "reason"
	FieldWorkload    = "workload_id"
)

// Fields pairs up keys and values; a trailing key or a non-string key is
// dropped.
//
//	log.Info("Step cached", logger.Fields(logger.FieldStep, "train", logger.FieldRun, id))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// MergeWithError sets the error field on fields, allocating when nil.
func MergeWithError(fields map[string]interface{}, err error) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{}, 1)
	}
	fields[FieldError] = err.Error()
	return fields
}
