package wbem

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// DefaultArraySeparator joins array elements in display strings.
const DefaultArraySeparator = "|"

// displayDateLayout renders datetimes when epoch output is disabled.
const displayDateLayout = "Mon Jan 02 15:04:05 2006"

// StringConverter renders converted values as display strings.
//
// Arrays are joined with Separator, with a trailing separator and with any
// separator occurring inside an element removed. Booleans render as
// True/False. Datetimes render as epoch seconds or, when Epoch is false,
// in a fixed US layout.
type StringConverter struct {
	Separator string
	Epoch     bool
}

// NewStringConverter returns a converter using "|" and epoch datetimes.
func NewStringConverter() *StringConverter {
	return &StringConverter{Separator: DefaultArraySeparator, Epoch: true}
}

// Convert renders value.
func (c *StringConverter) Convert(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "True"
		}
		return "False"
	case time.Time:
		if c.Epoch {
			return strconv.FormatInt(v.Unix(), 10)
		}
		return v.Format(displayDateLayout)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		var b strings.Builder
		for i := 0; i < rv.Len(); i++ {
			item := c.Convert(rv.Index(i).Interface())
			if c.Separator != "" {
				item = strings.ReplaceAll(item, c.Separator, "")
			}
			b.WriteString(item)
			b.WriteString(c.Separator)
		}
		return b.String()
	}

	return fmt.Sprint(value)
}

// Row renders every field of r, keeping key order.
func (c *StringConverter) Row(r *Row) []string {
	out := make([]string, 0, r.Len())
	r.Range(func(_ string, v any) bool {
		out = append(out, c.Convert(v))
		return true
	})
	return out
}
