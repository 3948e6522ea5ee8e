package remote

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/Guliveer/databot/internal/models"
)

// ErrNullValue is returned for a JSON null reading.
var ErrNullValue = errors.New("null value")

// Property converts a scalar JSON value into a typed property. Integral
// numbers become long properties, other numbers float properties.
// Objects and arrays are rejected; the metric must select a scalar.
func Property(name string, raw json.RawMessage) (models.Property, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return models.Property{}, ErrNullValue
	}
	switch raw[0] {
	case 'n':
		return models.Property{}, ErrNullValue
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return models.Property{}, err
		}
		return models.BoolProperty(name, b), nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Property{}, err
		}
		return models.StringProperty(name, s), nil
	case '{', '[':
		return models.Property{}, fmt.Errorf("composite value for %q, select a scalar", name)
	default:
		lit := string(raw)
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return models.LongProperty(name, i), nil
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return models.Property{}, fmt.Errorf("unsupported value %q: %w", snippet(raw), err)
		}
		return models.FloatProperty(name, f), nil
	}
}
