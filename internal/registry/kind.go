package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/roach88/bizflow/internal/model"
)

// Kind is the declared storage kind of a field or relation.
type Kind string

const (
	KindString   Kind = "string"
	KindText     Kind = "text"
	KindInt      Kind = "int"
	KindDecimal  Kind = "decimal"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
	KindJSON     Kind = "json"

	KindForeignKey Kind = "fk"
	KindOneToOne   Kind = "one_to_one"
	KindManyToMany Kind = "many_to_many"
)

const dateLayout = "2006-01-02"

// ErrNotOrdered is returned by Compare for kinds without a natural order.
var ErrNotOrdered = errors.New("kind has no ordering")

// IsRelation reports whether k points at another entity.
func (k Kind) IsRelation() bool {
	return k == KindForeignKey || k == KindOneToOne || k == KindManyToMany
}

// IsToOne reports whether k is a single-valued relation that dotted paths
// can traverse.
func (k Kind) IsToOne() bool {
	return k == KindForeignKey || k == KindOneToOne
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindText, KindInt, KindDecimal, KindBool, KindDate,
		KindDateTime, KindJSON, KindForeignKey, KindOneToOne, KindManyToMany:
		return true
	}
	return false
}

// Coerce converts a raw value (decoded JSON, CLI text, CUE literal) into the
// native Go representation for kind k. Nil stays nil.
func Coerce(k Kind, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if n, ok := raw.(json.Number); ok {
		raw = n.String()
	}

	switch k {
	case KindString, KindText, "":
		return cast.ToStringE(raw)
	case KindInt:
		if s, ok := raw.(string); ok {
			if i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return i, nil
			}
		}
		return cast.ToInt64E(raw)
	case KindDecimal:
		return toDecimal(raw)
	case KindBool:
		return cast.ToBoolE(raw)
	case KindDate:
		t, err := cast.ToTimeInDefaultLocationE(raw, time.UTC)
		if err != nil {
			return nil, err
		}
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case KindDateTime:
		t, err := cast.ToTimeInDefaultLocationE(raw, time.UTC)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case KindForeignKey, KindOneToOne:
		if ref, ok := raw.(model.EntityRef); ok {
			return ref.PK, nil
		}
		return cast.ToStringE(raw)
	case KindManyToMany:
		if s, ok := raw.(string); ok {
			return splitList(s), nil
		}
		return cast.ToStringSliceE(raw)
	case KindJSON:
		return raw, nil
	}
	return nil, fmt.Errorf("unknown kind %q", k)
}

func toDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	i, err := cast.ToInt64E(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", raw)
	}
	return decimal.NewFromInt(i), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Format renders v as the display string used by audit diffs, placeholders
// and the string-form condition operators. Nil renders as "".
func Format(k Kind, v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		if k == KindDate {
			return val.Format(dateLayout)
		}
		return val.UTC().Format(time.RFC3339)
	case decimal.Decimal:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case []string:
		return strings.Join(val, ",")
	case map[string]any, []any:
		out, err := model.MarshalCanonical(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(out)
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// Compare orders a and b using the native type of kind k. Both sides are
// coerced first, so a clause value "100" compares numerically against an
// int field. Int fields compare as decimals so a fractional clause value
// is never truncated.
func Compare(k Kind, a, b any) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("cannot order null")
	}
	switch k {
	case KindInt, KindDecimal:
		x, err := toDecimal(a)
		if err != nil {
			return 0, err
		}
		y, err := toDecimal(b)
		if err != nil {
			return 0, err
		}
		return x.Cmp(y), nil
	case KindDate, KindDateTime:
		x, err := Coerce(k, a)
		if err != nil {
			return 0, err
		}
		y, err := Coerce(k, b)
		if err != nil {
			return 0, err
		}
		return x.(time.Time).Compare(y.(time.Time)), nil
	case KindString, KindText:
		return strings.Compare(Format(k, a), Format(k, b)), nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotOrdered, k)
}

// Equal reports whether field value v equals clause value want under kind
// k. When want cannot be coerced to k the string forms are compared.
func Equal(k Kind, v, want any) bool {
	if v == nil || want == nil {
		return v == nil && want == nil
	}
	if k == KindInt || k == KindDecimal {
		x, errX := toDecimal(v)
		y, errY := toDecimal(want)
		if errX == nil && errY == nil {
			return x.Equal(y)
		}
	}
	if k == KindDate || k == KindDateTime {
		x, errX := Coerce(k, v)
		y, errY := Coerce(k, want)
		if errX == nil && errY == nil {
			return x.(time.Time).Equal(y.(time.Time))
		}
	}
	if k == KindBool {
		x, errX := Coerce(k, v)
		y, errY := Coerce(k, want)
		if errX == nil && errY == nil {
			return x == y
		}
	}
	return Format(k, v) == Format(k, want)
}

// IsEmpty reports null, empty string, or zero-length collection.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}
