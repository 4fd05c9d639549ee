package wql

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/smnsjas/go-wmicore/wmierr"
)

func TestParseRejectsInvalidQueries(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"SELECT* FROM Win32_ComputerSystem",
		"SELECT * FROMWin32_ComputerSystem",
		"SELECT a,,b FROM Win32_ComputerSystem",
		"SELECT a, FROM Win32_ComputerSystem",
		"SELECT ,a FROM Win32_ComputerSystem",
		"$Prop",
		"SELECT * * FROM Win32_ComputerSystem",
		"* From Win32_ComputerSystem",
		"select__PATH from Win32_ComputerSystem",
		"select DNSHostName,SystemTypefrom Win32_ComputerSystem",
		"select __PATH, DNSHostName, SystemType from , Win32_ComputerSystem",
		"select __PATH, DNSHostName from where Name = 'X'",
		"select __PATH from from Win32_ComputerSystem",
		"select __PATH from Win32_ComputerSystem Win32_ComputerSystem",
		"select __PATH , DNSHostName, SystemType where Win32_ComputerSystem from Name = 'X'",
		"SELECT select __PATH, DNSHostName FROM Win32_ComputerSystem",
		"SELECT * FROM Win32_ComputerSystem$",
		"SELECT * FROM Win32_ComputerSystem WHERE",
		"SELECT a.b.c FROM Win32_ComputerSystem",
		"ASSOCIATORS OF Win32_Process.ProcessId",
		"SELECT ASSOCIATORS OF {Win32_Process.ProcessId=1}",
		"  SELECT  ASSOCIATORS OF\n{\tWin32_Process.ProcessId=1\n}",
		"SELECT Temperature, FROM ASSOCIATORS OF {Win32_Process.ProcessId=1}",
		"SELECT Temperature, * FROM ASSOCIATORS OF {Win32_Process.ProcessId=1}",
	}

	for _, raw := range invalid {
		t.Run(raw, func(t *testing.T) {
			q, err := Parse(raw)
			if err == nil {
				t.Fatalf("expected error for %q, got canonical %q", raw, q.Canonical())
			}
			if !errors.Is(err, wmierr.ErrQuerySyntax) {
				t.Errorf("expected query syntax error, got %v", err)
			}
			if IsValid(raw) {
				t.Errorf("IsValid(%q) = true", raw)
			}
		})
	}
}

func TestParseCanonicalForm(t *testing.T) {
	tests := []struct {
		raw       string
		canonical string
		selected  []string
		sub       map[string][]string
	}{
		{
			raw:       "SELECT * FROM Win32_ComputerSystem",
			canonical: "SELECT * FROM Win32_ComputerSystem",
			selected:  []string{},
			sub:       map[string][]string{},
		},
		{
			raw:       "select    __PATH   ,    SystemType,    DNSHostName  from    Win32_ComputerSystem",
			canonical: "SELECT __path,systemtype,dnshostname FROM Win32_ComputerSystem",
			selected:  []string{"__path", "systemtype", "dnshostname"},
			sub:       map[string][]string{},
		},
		{
			raw:       "SELECT\n\tName\n,Name FROM\nWin32_Service",
			canonical: "SELECT name FROM Win32_Service",
			selected:  []string{"name"},
			sub:       map[string][]string{},
		},
		{
			raw:       "SELECT * FROM Win32_Process WHERE CommandLine='bash select test 0'",
			canonical: "SELECT * FROM Win32_Process WHERE CommandLine='bash select test 0'",
			selected:  []string{},
			sub:       map[string][]string{},
		},
		{
			raw:       "SELECT DriveInfo.Name,DriveInfo.NumberPaths,DriveInfo.SerialNumber FROM MPIO_DISK_INFO WHERE condition",
			canonical: "SELECT driveinfo FROM MPIO_DISK_INFO WHERE condition",
			selected:  []string{"driveinfo"},
			sub:       map[string][]string{"driveinfo": {"name", "numberpaths", "serialnumber"}},
		},
		{
			raw:       "SELECT a.b, a.c FROM X",
			canonical: "SELECT a FROM X",
			selected:  []string{"a"},
			sub:       map[string][]string{"a": {"b", "c"}},
		},
		{
			raw:       "SELECT a.B, A.b, c FROM X",
			canonical: "SELECT a,c FROM X",
			selected:  []string{"a", "c"},
			sub:       map[string][]string{"a": {"b"}},
		},
		{
			raw:       "SELECT Temperature.Current, Temperature.Max FROM ASSOCIATORS OF {Win32_Process.ProcessId=1}",
			canonical: "ASSOCIATORS OF {Win32_Process.ProcessId=1}",
			selected:  []string{"temperature"},
			sub:       map[string][]string{"temperature": {"current", "max"}},
		},
		{
			raw:       "  ASSOCIATORS OF {Win32_Process.ProcessId=1} WHERE AssocClass = Win32_Test  ",
			canonical: "ASSOCIATORS OF {Win32_Process.ProcessId=1} WHERE AssocClass = Win32_Test",
			selected:  []string{},
			sub:       map[string][]string{},
		},
		{
			raw:       "SELECT * FROM ASSOCIATORS OF {Win32_Process.ProcessId=1}",
			canonical: "ASSOCIATORS OF {Win32_Process.ProcessId=1}",
			selected:  []string{},
			sub:       map[string][]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			q, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if q.Raw() != tt.raw {
				t.Errorf("expected raw %q, got %q", tt.raw, q.Raw())
			}
			if q.Canonical() != tt.canonical {
				t.Errorf("expected canonical %q, got %q", tt.canonical, q.Canonical())
			}
			if !reflect.DeepEqual(q.SelectedProperties(), tt.selected) {
				t.Errorf("expected selected %v, got %v", tt.selected, q.SelectedProperties())
			}
			if !reflect.DeepEqual(q.SubProperties(), tt.sub) {
				t.Errorf("expected sub properties %v, got %v", tt.sub, q.SubProperties())
			}
			if q.IsAssociators() != strings.Contains(tt.canonical, "ASSOCIATORS") {
				t.Errorf("unexpected IsAssociators() = %v", q.IsAssociators())
			}
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	raw := "select Name, DriveInfo.Serial from MPIO_DISK_INFO where Name like '%x%'"
	first, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	second, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if first.Canonical() != second.Canonical() {
		t.Errorf("canonical differs: %q vs %q", first.Canonical(), second.Canonical())
	}
	if first.Class() != "MPIO_DISK_INFO" {
		t.Errorf("expected class MPIO_DISK_INFO, got %q", first.Class())
	}
}

func TestSubPropertyKeysAreSelected(t *testing.T) {
	q, err := Parse("SELECT x.y, z, w.v FROM C")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	selected := q.SelectedProperties()
	for key := range q.SubProperties() {
		found := false
		for _, s := range selected {
			if s == key {
				found = true
			}
		}
		if !found {
			t.Errorf("sub-property key %q missing from selected %v", key, selected)
		}
	}
	if got := q.SubPropertiesOf("Z"); got != nil {
		t.Errorf("expected no sub-properties for z, got %v", got)
	}
	if got := q.SubPropertiesOf("W"); !reflect.DeepEqual(got, []string{"v"}) {
		t.Errorf("expected [v], got %v", got)
	}
}

func TestAccessorsReturnCopies(t *testing.T) {
	q, err := Parse("SELECT a.b FROM C")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	q.SelectedProperties()[0] = "mutated"
	q.SubProperties()["a"][0] = "mutated"
	if q.SelectedProperties()[0] != "a" {
		t.Error("selected properties were mutated through accessor")
	}
	if q.SubPropertiesOf("a")[0] != "b" {
		t.Error("sub-properties were mutated through accessor")
	}
}
