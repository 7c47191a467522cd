package audit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// maxCanonicalDepth bounds nesting in subject payloads. Anything deeper is
// treated as non-canonicalizable.
const maxCanonicalDepth = 64

// Canonicalize returns the deterministic byte encoding of an entry's fields
// minus hash. The output is JSON with keys in sorted order at every level
// and numbers in a normalized form, so logically equal entries produce
// byte-identical output regardless of field construction order. This
// determinism is the load-bearing property of the whole engine: the chain
// hash is computed over these bytes.
func Canonicalize(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	// Top-level keys in sorted order: actorId, event, subject, timestamp.
	appendJSONString(&buf, "actorId")
	buf.WriteByte(':')
	if e.ActorID == nil {
		buf.WriteString("null")
	} else {
		appendJSONString(&buf, *e.ActorID)
	}

	buf.WriteByte(',')
	appendJSONString(&buf, "event")
	buf.WriteByte(':')
	appendJSONString(&buf, e.Event)

	buf.WriteByte(',')
	appendJSONString(&buf, "subject")
	buf.WriteByte(':')
	if err := appendCanonicalValue(&buf, e.Subject, 0); err != nil {
		return nil, err
	}

	buf.WriteByte(',')
	appendJSONString(&buf, "timestamp")
	buf.WriteByte(':')
	appendJSONString(&buf, e.Timestamp)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// appendCanonicalValue encodes one value of the closed variant. json.Number
// is accepted so that records re-read from storage canonicalize to the same
// bytes they hashed to when appended.
func appendCanonicalValue(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxCanonicalDepth {
		return fmt.Errorf("%w: nesting exceeds %d levels", ErrEncoding, maxCanonicalDepth)
	}

	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		appendJSONString(buf, x)
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(x, 10))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: non-finite number %v", ErrEncoding, x)
		}
		buf.WriteString(canonicalFloat(x))
	case json.Number:
		return appendCanonicalNumber(buf, x)
	case []any:
		buf.WriteByte('[')
		for i, elem := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendCanonicalValue(buf, elem, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendJSONString(buf, k)
			buf.WriteByte(':')
			if err := appendCanonicalValue(buf, x[k], depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case Metadata:
		return appendCanonicalValue(buf, map[string]any(x), depth)
	default:
		return fmt.Errorf("%w: unsupported value type %T", ErrEncoding, v)
	}
	return nil
}

// appendCanonicalNumber normalizes a JSON number token. Integer tokens go
// through integer formatting, everything else through float formatting, so
// the result does not depend on how the token was spelled in storage.
func appendCanonicalNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			buf.WriteString(strconv.FormatUint(u, 10))
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: invalid number %q", ErrEncoding, s)
	}
	buf.WriteString(canonicalFloat(f))
	return nil
}

// canonicalFloat formats a finite float exactly the way encoding/json does,
// so the bytes hashed at append time match the token encoding/json writes to
// the persisted line and the token re-read during verification.
func canonicalFloat(f float64) string {
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// encoding/json shortens e-09 to e-9.
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return string(b)
}

// appendJSONString writes a JSON string using encoding/json's escaping,
// which is deterministic for any input.
func appendJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// normalizeMetadata copies caller-supplied metadata into the closed variant
// the codec accepts: nil, bool, string, int64, uint64, finite float64,
// []any, and map[string]any. Non-finite numbers, non-string map keys,
// cyclic structures, and unsupported kinds are rejected.
func normalizeMetadata(m Metadata) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}
	out, err := normalizeValue(m, make(map[uintptr]bool))
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func normalizeValue(v any, seen map[uintptr]bool) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: non-finite number %v", ErrEncoding, x)
		}
		return x, nil
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite number %v", ErrEncoding, f)
		}
		// Route through the float32 shortest decimal so the value we hash
		// is the value encoding/json will persist.
		g, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'g', -1, 32), 64)
		return g, nil
	case []byte:
		// encoding/json persists byte slices as base64 strings.
		return base64.StdEncoding.EncodeToString(x), nil
	case json.Number:
		if !strings.ContainsAny(x.String(), ".eE") {
			if i, err := x.Int64(); err == nil {
				return i, nil
			}
		}
		f, err := x.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: invalid number %q", ErrEncoding, x.String())
		}
		return f, nil
	case Metadata:
		return normalizeValue(map[string]any(x), seen)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem().Interface(), seen)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map keys must be strings, got %s", ErrEncoding, rv.Type().Key())
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return nil, fmt.Errorf("%w: cyclic structure", ErrEncoding)
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			nv, err := normalizeValue(iter.Value().Interface(), seen)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = nv
		}
		return out, nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return nil, fmt.Errorf("%w: cyclic structure", ErrEncoding)
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return normalizeSequence(rv, seen)
	case reflect.Array:
		return normalizeSequence(rv, seen)
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", ErrEncoding, v)
	}
}

func normalizeSequence(rv reflect.Value, seen map[uintptr]bool) (any, error) {
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		nv, err := normalizeValue(rv.Index(i).Interface(), seen)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}
