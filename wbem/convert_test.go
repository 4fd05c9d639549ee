package wbem

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/smnsjas/go-wmicore/wmierr"
)

type fakeProp struct {
	value any
	typ   CIMType
}

// fakeObject is an in-memory Object. namesErrs failures are returned by
// Names before it succeeds.
type fakeObject struct {
	order     []string
	props     map[string]fakeProp
	namesErrs int
	namesCall int
}

func newFakeObject() *fakeObject {
	return &fakeObject{props: map[string]fakeProp{}}
}

func (o *fakeObject) with(name string, value any, typ CIMType) *fakeObject {
	o.order = append(o.order, name)
	o.props[name] = fakeProp{value: value, typ: typ}
	return o
}

func (o *fakeObject) Names() ([]string, error) {
	o.namesCall++
	if o.namesCall <= o.namesErrs {
		return nil, errors.New("transient failure")
	}
	return o.order, nil
}

func (o *fakeObject) Get(name string) (any, CIMType, error) {
	p, ok := o.props[name]
	if !ok {
		return nil, 0, errors.New("not found")
	}
	return p.value, p.typ, nil
}

func single(t *testing.T, fields []Field, err error) Field {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d: %v", len(fields), fields)
	}
	return fields[0]
}

func TestConvertScalars(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   CIMType
		want  any
	}{
		{"boolean", true, CIMBoolean, true},
		{"sint8", int8(-3), CIMSint8, int8(-3)},
		{"uint8", uint8(200), CIMUint8, uint8(200)},
		{"sint16", int16(-300), CIMSint16, int16(-300)},
		{"uint16 from int32", int32(65000), CIMUint16, uint16(65000)},
		{"sint32", int32(-70000), CIMSint32, int32(-70000)},
		{"uint32 from negative int32", int32(-1), CIMUint32, uint32(0xFFFFFFFF)},
		{"sint64 string", "-9223372036854775808", CIMSint64, "-9223372036854775808"},
		{"uint64 string", "18446744073709551615", CIMUint64, "18446744073709551615"},
		{"sint64 int", int64(42), CIMSint64, "42"},
		{"uint64 uint", uint64(18446744073709551615), CIMUint64, "18446744073709551615"},
		{"real32", float32(1.5), CIMReal32, float32(1.5)},
		{"real64", 2.25, CIMReal64, 2.25},
		{"char16", uint16('A'), CIMChar16, uint16('A')},
		{"string", "hello", CIMString, "hello"},
		{"reference", `\\HOST\root\cimv2:Win32_LogicalDisk.DeviceID="C:"`, CIMReference, `Win32_LogicalDisk.DeviceID="C:"`},
		{"reference without colon", "Win32_Foo", CIMReference, "Win32_Foo"},
		{"empty", "ignored", CIMEmpty, nil},
		{"unsupported", "x", CIMType(999), UnsupportedLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := Convert(PropertyRequest{Name: "Prop"}, tt.value, tt.typ)
			f := single(t, fields, err)
			if f.Key != "Prop" {
				t.Errorf("expected key Prop, got %q", f.Key)
			}
			if !reflect.DeepEqual(f.Value, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, f.Value)
			}
		})
	}
}

func TestConvertNullValue(t *testing.T) {
	for _, typ := range []CIMType{CIMString, CIMObject, CIMString | CIMFlagArray, CIMDateTime} {
		fields, err := Convert(PropertyRequest{Name: "P", Sub: []string{"x"}}, nil, typ)
		f := single(t, fields, err)
		if f.Key != "P" || f.Value != nil {
			t.Errorf("type %s: expected {P: nil}, got %+v", typ, f)
		}
	}
}

func TestConvertTypeMismatch(t *testing.T) {
	_, err := Convert(PropertyRequest{Name: "P"}, "not a number", CIMUint32)
	if !errors.Is(err, wmierr.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestConvertDateTime(t *testing.T) {
	fields, err := Convert(PropertyRequest{Name: "InstallDate"}, "19750324193000.000000+060", CIMDateTime)
	f := single(t, fields, err)

	got, ok := f.Value.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", f.Value)
	}
	if got.Unix() != 164917800 {
		t.Errorf("expected epoch 164917800, got %d", got.Unix())
	}
	if _, offset := got.Zone(); offset != 3600 {
		t.Errorf("expected offset 3600, got %d", offset)
	}
	want := time.Date(1975, 3, 24, 19, 30, 0, 0, time.FixedZone("", 3600))
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	_, err = Convert(PropertyRequest{Name: "InstallDate"}, "1975-03-24", CIMDateTime)
	if !errors.Is(err, wmierr.ErrFormat) {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestParseDateTime(t *testing.T) {
	a, err := ParseDateTime("19750324193000.000000+060")
	if err != nil {
		t.Fatalf("ParseDateTime failed: %v", err)
	}
	b, err := ParseDateTime("19750324193000.000000+059")
	if err != nil {
		t.Fatalf("ParseDateTime failed: %v", err)
	}
	if diff := b.Sub(a); diff != time.Minute {
		t.Errorf("expected one minute difference, got %v", diff)
	}

	c, err := ParseDateTime("20240101000000-300")
	if err != nil {
		t.Fatalf("ParseDateTime without fraction failed: %v", err)
	}
	if _, offset := c.Zone(); offset != -5*3600 {
		t.Errorf("expected -5h offset, got %d", offset)
	}

	for _, bad := range []string{"", "2024", "20240101000000.12+060", "20240101000000.000000+60", "20241301000000.000000+000"} {
		if _, err := ParseDateTime(bad); !errors.Is(err, wmierr.ErrFormat) {
			t.Errorf("ParseDateTime(%q): expected format error, got %v", bad, err)
		}
	}
}

func TestFormatDateTimeRoundTrip(t *testing.T) {
	in := "19750324193000.000000+060"
	parsed, err := ParseDateTime(in)
	if err != nil {
		t.Fatalf("ParseDateTime failed: %v", err)
	}
	if out := FormatDateTime(parsed); out != in {
		t.Errorf("expected %q, got %q", in, out)
	}
	neg := time.Date(2020, 6, 1, 8, 0, 0, 0, time.FixedZone("", -90*60))
	if out := FormatDateTime(neg); out != "20200601080000.000000-090" {
		t.Errorf("unexpected %q", out)
	}
}

func TestConvertArrays(t *testing.T) {
	tests := []struct {
		name  string
		value any
		typ   CIMType
		want  []any
	}{
		{"uint32", []any{int32(1), int32(2)}, CIMUint32 | CIMFlagArray, []any{uint32(1), uint32(2)}},
		{"strings", []string{"a", "b"}, CIMString | CIMFlagArray, []any{"a", "b"}},
		{"references", []any{`\\H\root:A.Id=1`, "B"}, CIMReference | CIMFlagArray, []any{"A.Id=1", "B"}},
		{"with null", []any{"a", nil}, CIMString | CIMFlagArray, []any{"a", nil}},
		{"empty", []any{}, CIMString | CIMFlagArray, []any{}},
		{"unknown element type", []any{1, "x"}, CIMType(999) | CIMFlagArray, []any{1, "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := Convert(PropertyRequest{Name: "Arr"}, tt.value, tt.typ)
			f := single(t, fields, err)
			if !reflect.DeepEqual(f.Value, tt.want) {
				t.Errorf("expected %#v, got %#v", tt.want, f.Value)
			}
		})
	}

	fields, err := Convert(PropertyRequest{Name: "Dates"}, []any{"19750324193000.000000+060"}, CIMDateTime|CIMFlagArray)
	f := single(t, fields, err)
	dates := f.Value.([]any)
	if dates[0].(time.Time).Unix() != 164917800 {
		t.Errorf("unexpected datetime element %v", dates[0])
	}

	if _, err := Convert(PropertyRequest{Name: "Arr"}, "scalar", CIMString|CIMFlagArray); !errors.Is(err, wmierr.ErrFormat) {
		t.Errorf("expected format error for non-array payload, got %v", err)
	}
}

func TestConvertEmbeddedObject(t *testing.T) {
	inner := newFakeObject().
		with("Name", "disk0", CIMString).
		with("NumberPaths", int32(2), CIMUint32).
		with("Nested", newFakeObject(), CIMObject)

	t.Run("no sub-properties", func(t *testing.T) {
		fields, err := Convert(PropertyRequest{Name: "DriveInfo"}, inner, CIMObject)
		f := single(t, fields, err)
		if f.Value != EmbeddedObjectLabel {
			t.Errorf("expected %q, got %v", EmbeddedObjectLabel, f.Value)
		}
	})

	t.Run("sub-properties", func(t *testing.T) {
		req := PropertyRequest{Name: "DriveInfo", Sub: []string{"name", "numberpaths", "nested", "missing"}}
		fields, err := Convert(req, inner, CIMObject)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []Field{
			{Key: "DriveInfo.Name", Value: "disk0"},
			{Key: "DriveInfo.NumberPaths", Value: uint32(2)},
			{Key: "DriveInfo.Nested", Value: EmbeddedObjectLabel},
			{Key: "DriveInfo.missing", Value: nil},
		}
		if !reflect.DeepEqual(fields, want) {
			t.Errorf("expected %v, got %v", want, fields)
		}
	})

	t.Run("unresolvable object", func(t *testing.T) {
		req := PropertyRequest{Name: "DriveInfo", Sub: []string{"a", "b"}}
		fields, err := Convert(req, "not an object", CIMObject)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []Field{{Key: "DriveInfo.a"}, {Key: "DriveInfo.b"}}
		if !reflect.DeepEqual(fields, want) {
			t.Errorf("expected %v, got %v", want, fields)
		}
	})
}

func TestConvertEmbeddedObjectNamesRetry(t *testing.T) {
	inner := newFakeObject().with("Current", int32(40), CIMSint32)
	inner.namesErrs = 1

	fields, err := Convert(PropertyRequest{Name: "Temperature", Sub: []string{"current"}}, inner, CIMObject)
	f := single(t, fields, err)
	if f.Key != "Temperature.Current" || f.Value != int32(40) {
		t.Errorf("unexpected field %+v", f)
	}
	if inner.namesCall != 2 {
		t.Errorf("expected 2 Names calls, got %d", inner.namesCall)
	}

	failing := newFakeObject()
	failing.namesErrs = 2
	if _, err := Convert(PropertyRequest{Name: "T", Sub: []string{"x"}}, failing, CIMObject); err == nil {
		t.Error("expected error after second Names failure")
	}
}

func TestConvertEmbeddedObjectArray(t *testing.T) {
	first := newFakeObject().with("Name", "a", CIMString).with("Size", "10", CIMUint64)
	second := newFakeObject().with("Name", "b", CIMString)

	t.Run("no sub-properties", func(t *testing.T) {
		fields, err := Convert(PropertyRequest{Name: "Disks"}, []any{first, second}, CIMObject|CIMFlagArray)
		f := single(t, fields, err)
		if !reflect.DeepEqual(f.Value, []any{EmbeddedObjectLabel}) {
			t.Errorf("unexpected value %#v", f.Value)
		}
	})

	t.Run("sub-properties", func(t *testing.T) {
		req := PropertyRequest{Name: "Disks", Sub: []string{"name", "size"}}
		fields, err := Convert(req, []any{first, second, nil}, CIMObject|CIMFlagArray)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []Field{
			{Key: "Disks.Name", Value: []any{"a", "b"}},
			{Key: "Disks.Size", Value: []any{"10", nil}},
		}
		if !reflect.DeepEqual(fields, want) {
			t.Errorf("expected %v, got %v", want, fields)
		}
	})
}

func TestPropertyPathAndFailure(t *testing.T) {
	obj := newFakeObject().
		with("__PATH", `\\HOST\root\cimv2:Win32_ComputerSystem.Name="HOST"`, CIMString).
		with("__Path2", `\\HOST\root:keep`, CIMString)

	fields, err := Property(obj, PropertyRequest{Name: "__PATH"})
	f := single(t, fields, err)
	if f.Value != `Win32_ComputerSystem.Name="HOST"` {
		t.Errorf("expected stripped path, got %v", f.Value)
	}

	fields, err = Convert(PropertyRequest{Name: "__path"}, `\\h\ns:X`, CIMString)
	f = single(t, fields, err)
	if f.Key != "__path" || f.Value != "X" {
		t.Errorf("expected Convert to strip the path, got %+v", f)
	}

	fields, err = Property(obj, PropertyRequest{Name: "__Path2"})
	f = single(t, fields, err)
	if f.Value != `\\HOST\root:keep` {
		t.Errorf("expected unchanged value, got %v", f.Value)
	}

	fields, err = Property(obj, PropertyRequest{Name: "Missing"})
	f = single(t, fields, err)
	if f.Key != "Missing" || f.Value != nil {
		t.Errorf("expected {Missing: nil}, got %+v", f)
	}
}

func TestNameIndex(t *testing.T) {
	idx := NewNameIndex([]string{"DNSHostName", "SystemType", "dnshostname"})
	name, ok := idx.Resolve("dnsHOSTname")
	if !ok || name != "DNSHostName" {
		t.Errorf("expected DNSHostName, got %q, %v", name, ok)
	}
	if _, ok := idx.Resolve("unknown"); ok {
		t.Error("unexpected resolution")
	}
	if got := idx.Names(); len(got) != 3 {
		t.Errorf("unexpected names %v", got)
	}
}

func TestCIMTypeString(t *testing.T) {
	if CIMUint32.String() != "CIM_UINT32" {
		t.Errorf("unexpected %q", CIMUint32.String())
	}
	if (CIMString | CIMFlagArray).String() != "CIM_STRING[]" {
		t.Errorf("unexpected %q", (CIMString | CIMFlagArray).String())
	}
	if CIMType(7).String() != "Unknown(7)" {
		t.Errorf("unexpected %q", CIMType(7).String())
	}
	if !(CIMObject | CIMFlagArray).IsArray() || CIMObject.IsArray() {
		t.Error("IsArray mismatch")
	}
}
