package provider

import (
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"
)

// ExecContext is the per-request (or per-workflow-run) state provider
// instances operate in. It is owned by one caller and not shared.
type ExecContext struct {
	TenantID     string
	APIKey       string
	Dependencies *Dependencies
	// Foreach is the item of the current iteration, if any. A pair
	// produced by zipping lists is passed as enrichment.Zipped.
	Foreach any
	// Event is the alert or event that triggered the run.
	Event  any
	Logger *zap.Logger
}

// NewExecContext creates an execution context for tenantID.
func NewExecContext(tenantID, apiKey string, logger *zap.Logger) *ExecContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecContext{
		TenantID:     tenantID,
		APIKey:       apiKey,
		Dependencies: NewDependencies(),
		Logger:       logger.With(zap.String("tenant_id", tenantID)),
	}
}

// Dependencies records the result types produced during a run.
type Dependencies struct {
	seen map[string]struct{}
}

func NewDependencies() *Dependencies {
	return &Dependencies{seen: make(map[string]struct{})}
}

// Record adds the type of results. For a non-empty list the type of its
// first element is recorded instead. Nil results are ignored.
func (d *Dependencies) Record(results any) {
	if results == nil {
		return
	}
	v := reflect.ValueOf(results)
	if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
		if v.Len() == 0 {
			return
		}
		results = v.Index(0).Interface()
		if results == nil {
			return
		}
	}
	d.seen[fmt.Sprintf("%T", results)] = struct{}{}
}

// List returns the recorded type names, sorted.
func (d *Dependencies) List() []string {
	out := make([]string, 0, len(d.seen))
	for name := range d.seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
