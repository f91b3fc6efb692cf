package enrichment

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/emirozbir/alertflow/internal/apperr"
)

// ResultsPrefix marks an instruction value as a path into the results.
const ResultsPrefix = "results."

// Lookup walks a dot-separated path through results. Maps are indexed by
// key, slices by numeric index and structs by JSON name or field name. Any
// missing segment yields an error wrapping apperr.ErrPathNotFound.
func Lookup(results any, path string) (any, error) {
	cur := reflect.ValueOf(results)
	for _, seg := range strings.Split(path, ".") {
		next, ok := step(cur, seg)
		if !ok {
			return nil, apperr.New(apperr.CodePathNotFound, "cannot resolve "+strconv.Quote(seg)+" in "+strconv.Quote(path), nil)
		}
		cur = next
	}
	cur = indirect(cur)
	if !cur.IsValid() {
		return nil, nil
	}
	return cur.Interface(), nil
}

func step(v reflect.Value, seg string) (reflect.Value, bool) {
	v = indirect(v)
	if !v.IsValid() {
		return reflect.Value{}, false
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}, false
		}
		item := v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
		return item, item.IsValid()
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= v.Len() {
			return reflect.Value{}, false
		}
		return v.Index(i), true
	case reflect.Struct:
		return structField(v, seg)
	}
	return reflect.Value{}, false
}

func structField(v reflect.Value, seg string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == seg || (name == "" && f.Name == seg) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
