package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Field names one schedule field.
type Field string

const (
	FieldHour   Field = "hour"
	FieldMinute Field = "minute"
)

func (f Field) bounds() (lo, hi int) {
	if f == FieldHour {
		return 0, 23
	}
	return 0, 59
}

type Kind uint8

const (
	KindUnset Kind = iota
	KindNumeric
	KindPattern
)

// Value is a schedule field: either a fixed number or a cron-style pattern
// such as "*" or "*/2". The kind is decided once, when the value is parsed.
type Value struct {
	kind Kind
	n    int
	p    string
}

func Numeric(n int) Value    { return Value{kind: KindNumeric, n: n} }
func Pattern(p string) Value { return Value{kind: KindPattern, p: p} }
func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsSet() bool  { return v.kind != KindUnset }
func (v Value) Int() int     { return v.n }
func (v Value) Text() string { return v.p }

func (v Value) String() string {
	switch v.kind {
	case KindNumeric:
		return strconv.Itoa(v.n)
	case KindPattern:
		return v.p
	default:
		return ""
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumeric:
		return []byte(strconv.Itoa(v.n)), nil
	case KindPattern:
		return json.Marshal(v.p)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON keeps the server's representation: numbers become Numeric,
// strings become Pattern unchanged.
func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = Value{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Pattern(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("schedule value %s: %w", b, err)
	}
	*v = Numeric(int(f))
	return nil
}

// ValidationError reports operator input rejected before any request.
type ValidationError struct {
	Field  Field
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Input, e.Reason)
}

var fieldParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseValue decides the kind of one field. Blank input is unset; integer
// text is Numeric and must be in range; anything else must be a valid cron
// field expression and is kept verbatim.
func ParseValue(f Field, text string) (Value, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Value{}, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		lo, hi := f.bounds()
		if n < lo || n > hi {
			return Value{}, &ValidationError{Field: f, Input: text, Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
		}
		return Numeric(n), nil
	}
	if strings.ContainsAny(s, " \t") {
		return Value{}, &ValidationError{Field: f, Input: text, Reason: "must be a single cron field"}
	}
	spec := "0 " + s + " * * *"
	if f == FieldMinute {
		spec = s + " * * * *"
	}
	if _, err := fieldParser.Parse(spec); err != nil {
		return Value{}, &ValidationError{Field: f, Input: text, Reason: err.Error()}
	}
	return Pattern(s), nil
}
