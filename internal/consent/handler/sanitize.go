package handler

import (
	"reflect"
	"strings"
)

// sanitize trims string fields of the struct v points to and drops blank
// entries from []string fields.
func sanitize(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer || val.IsNil() {
		return
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return
	}

	for i := range val.NumField() {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strings.TrimSpace(field.String()))
		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.String {
				continue
			}
			kept := reflect.MakeSlice(field.Type(), 0, field.Len())
			for j := range field.Len() {
				s := strings.TrimSpace(field.Index(j).String())
				if s != "" {
					kept = reflect.Append(kept, reflect.ValueOf(s).Convert(field.Type().Elem()))
				}
			}
			field.Set(kept)
		}
	}
}
