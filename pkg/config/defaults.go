package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/knadh/koanf/v2"
)

// structProvider is a koanf.Provider that reads a struct through its koanf tags.
// Zero-valued fields are omitted so they never mask lower layers.
type structProvider struct {
	v any
}

func defaultsProvider(v any) koanf.Provider {
	return &structProvider{v: v}
}

// Read implements koanf.Provider.
func (p *structProvider) Read() (map[string]any, error) {
	return structToMap(p.v)
}

// ReadBytes is not supported for this provider.
func (p *structProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: ReadBytes not supported")
}

func structToMap(v any) (map[string]any, error) {
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, nil
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("config: expected struct, got %T", v)
	}

	result := make(map[string]any)
	typ := val.Type()

	for i := range typ.NumField() {
		field := typ.Field(i)
		fieldVal := val.Field(i)

		key := field.Tag.Get("koanf")
		if !field.IsExported() || key == "" || key == "-" {
			continue
		}
		if fieldVal.IsZero() {
			continue
		}

		// time.Duration and time.Time are leaf values.
		if fieldVal.Kind() == reflect.Struct && fieldVal.Type().PkgPath() != "time" {
			nested, err := structToMap(fieldVal.Interface())
			if err != nil {
				return nil, err
			}
			if len(nested) > 0 {
				result[key] = nested
			}
			continue
		}
		result[key] = fieldVal.Interface()
	}

	return result, nil
}
