package core

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Entity is a record with a stable string identifier, stored as one document.
type Entity interface {
	DocumentID() string
}

// Codec converts entities to and from the backend's native record shape.
type Codec[T any] interface {
	Encode(v T) (map[string]any, error)
	Decode(id string, data map[string]any) (T, error)
}

// FieldEncoder is implemented by codecs that rewrite individual fields of a
// partial update before it is sent.
type FieldEncoder interface {
	EncodeFields(fields map[string]any) (map[string]any, error)
}

const tagName = "firestore"

var timeType = reflect.TypeOf(time.Time{})

// TaggedCodec maps structs using `firestore` struct tags, the same tags the
// Firestore SDK reads. The document ID is carried in idField, which is
// populated on decode and left out of the stored data.
type TaggedCodec[T any] struct {
	idField string
}

// NewTaggedCodec returns a codec that puts the document ID into the field
// tagged idField. An empty idField disables ID injection.
func NewTaggedCodec[T any](idField string) *TaggedCodec[T] {
	return &TaggedCodec[T]{idField: idField}
}

func (c *TaggedCodec[T]) Encode(v T) (map[string]any, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, serializationError("%T does not encode to a map", v)
	}
	if c.idField != "" {
		delete(m, c.idField)
	}
	return m, nil
}

func (c *TaggedCodec[T]) Decode(id string, data map[string]any) (T, error) {
	var out T
	input := make(map[string]any, len(data)+1)
	for k, v := range data {
		input[k] = v
	}
	if c.idField != "" {
		input[c.idField] = id
	}

	target := any(&out)
	rv := reflect.ValueOf(&out).Elem()
	if rv.Kind() == reflect.Pointer {
		rv.Set(reflect.New(rv.Type().Elem()))
		target = rv.Interface()
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    tagName,
		Squash:     true,
		Result:     target,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		var zero T
		return zero, serializationError("%v", err)
	}
	if err := dec.Decode(input); err != nil {
		var zero T
		return zero, serializationError("document %s: %v", id, err)
	}
	return out, nil
}

// normalize converts v into the value set every backend accepts: nil, bool,
// int64, float64, string, []byte, time.Time, []any and map[string]any.
func normalize(v any) (any, error) {
	return normalizeValue(reflect.ValueOf(v))
}

func normalizeValue(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Invalid:
		return nil, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, serializationError("integer %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), rv.Bytes()...), nil
		}
		return normalizeList(rv)
	case reflect.Array:
		return normalizeList(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, serializationError("map key type %s is not a string", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			v, err := normalizeValue(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = v
		}
		return out, nil
	case reflect.Struct:
		if rv.Type() == timeType {
			return rv.Interface(), nil
		}
		out := make(map[string]any)
		if err := structInto(out, rv); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, serializationError("unsupported type %s", rv.Type())
	}
}

func normalizeList(rv reflect.Value) ([]any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		v, err := normalizeValue(rv.Index(i))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// structInto writes the exported fields of rv into out. Untagged embedded
// structs are flattened.
func structInto(out map[string]any, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty := parseTag(f.Tag.Get(tagName))
		if name == "-" {
			continue
		}
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := structInto(out, fv); err != nil {
					return err
				}
				continue
			}
		}

		if name == "" {
			name = f.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		v, err := normalizeValue(fv)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[name] = v
	}
	return nil
}

func parseTag(tag string) (name string, omitEmpty bool) {
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty
}

// encodeFields prepares a partial update: every value is normalized, then the
// codec may rewrite fields.
func encodeFields[T any](codec Codec[T], fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for path, v := range fields {
		if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
			return nil, serializationError("invalid field path %q", path)
		}
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", path, err)
		}
		out[path] = n
	}
	if fe, ok := any(codec).(FieldEncoder); ok {
		return fe.EncodeFields(out)
	}
	return out, nil
}
