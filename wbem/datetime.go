package wbem

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/smnsjas/go-wmicore/wmierr"
)

// dmtfRe matches yyyymmddHHMMSS, an optional fraction, and a signed
// three-digit offset in minutes.
var dmtfRe = regexp.MustCompile(`^([0-9]{14})(?:\.([0-9]{3,6}))?([+-][0-9]{3})$`)

const dmtfLayout = "20060102150405"

// ParseDateTime parses a CIM datetime such as "19750324193000.000000+060".
// The fractional part is ignored. The result is in a fixed zone whose offset
// is the value's own offset.
func ParseDateTime(s string) (time.Time, error) {
	m := dmtfRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, wmierr.Format("ParseDateTime", "not a valid CIM_DATETIME value: %q", s)
	}

	minutes, err := strconv.Atoi(m[3])
	if err != nil {
		return time.Time{}, wmierr.Format("ParseDateTime", "invalid offset in %q", s)
	}
	loc := time.FixedZone("", minutes*60)

	t, err := time.ParseInLocation(dmtfLayout, m[1], loc)
	if err != nil {
		return time.Time{}, wmierr.Format("ParseDateTime", "invalid date in %q: %v", s, err)
	}
	return t, nil
}

// FormatDateTime renders t as a CIM datetime with a zero fraction.
func FormatDateTime(t time.Time) string {
	_, offset := t.Zone()
	minutes := offset / 60
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return t.Format(dmtfLayout) + ".000000" + sign + leftPad(strconv.Itoa(minutes), 3)
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

// StripReference removes everything up to and including the first colon of
// an object reference, turning \\HOST\root\cimv2:Win32_Disk.Name="C:" into
// Win32_Disk.Name="C:". A reference without a colon is returned unchanged.
func StripReference(ref string) string {
	if _, after, ok := strings.Cut(ref, ":"); ok {
		return after
	}
	return ref
}
