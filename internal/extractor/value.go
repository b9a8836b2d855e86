package extractor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
)

// value is a decoded element value. Strings are already trimmed of DICOM
// padding; binary integer VRs are kept as ints.
type value struct {
	strs   []string
	ints   []int
	floats []float64
	bytes  int
	vr     string
	other  bool
}

func newValue(el *dicom.Element) value {
	v := value{vr: el.RawValueRepresentation}
	if el.Value == nil {
		return v
	}
	switch raw := el.Value.GetValue().(type) {
	case []string:
		v.strs = make([]string, len(raw))
		for i, s := range raw {
			v.strs[i] = strings.Trim(s, " \x00")
		}
	case []int:
		v.ints = raw
	case []float64:
		v.floats = raw
	case []byte:
		v.bytes = len(raw)
	default:
		v.other = true
	}
	return v
}

// String returns the first value as a string.
func (v value) String() string {
	switch {
	case len(v.strs) > 0:
		return v.strs[0]
	case len(v.ints) > 0:
		return strconv.Itoa(v.ints[0])
	case len(v.floats) > 0:
		return strconv.FormatFloat(v.floats[0], 'g', -1, 64)
	}
	return ""
}

// Int returns the first value as an integer, zero when empty.
func (v value) Int() (int, error) {
	n, err := v.OptionalInt()
	if n == nil {
		return 0, err
	}
	return *n, err
}

// OptionalInt returns the first value as an integer, nil when empty.
func (v value) OptionalInt() (*int, error) {
	if len(v.ints) > 0 {
		n := v.ints[0]
		return &n, nil
	}
	s := v.String()
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return &n, nil
}

// Date parses a DA value. The ACR-NEMA "YYYY.MM.DD" form is accepted too.
func (v value) Date() (*time.Time, error) {
	s := strings.ReplaceAll(v.String(), ".", "")
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse("20060102", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", v.String())
	}
	return &d, nil
}

// Raw renders every value for the overflow map. Multi-values are joined
// with the DICOM delimiter.
func (v value) Raw() string {
	switch {
	case len(v.strs) > 0:
		return strings.Join(v.strs, `\`)
	case len(v.ints) > 0:
		parts := make([]string, len(v.ints))
		for i, n := range v.ints {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, `\`)
	case len(v.floats) > 0:
		parts := make([]string, len(v.floats))
		for i, f := range v.floats {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strings.Join(parts, `\`)
	case v.bytes > 0:
		return fmt.Sprintf("<%s %d bytes>", v.vr, v.bytes)
	case v.other:
		return fmt.Sprintf("<%s>", v.vr)
	}
	return ""
}
