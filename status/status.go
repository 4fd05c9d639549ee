// Package status translates WBEM and DCOM status codes.
//
// The message table ships as an embedded YAML asset (codes.yaml) and is
// decoded once on first use. Codes missing from the table render as
// "code: 0x<hex>.".
package status

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Code is a native status code (an HRESULT viewed as unsigned).
type Code uint32

// Statuses the session branches on.
const (
	OK           Code = 0x00000000
	False        Code = 0x00000001
	TimedOut     Code = 0x00040004
	NoMoreData   Code = 0x00040005
	CallFailed   Code = 0x80041001
	NotFound     Code = 0x80041002
	InvalidClass Code = 0x80041010
	InvalidQuery Code = 0x80041017
	ChangedMode  Code = 0x80010106
	TooLate      Code = 0x80010119
	AccessDenied Code = 0x80070005
	InvalidArg   Code = 0x80070057
)

// Failed reports whether c is a failure (severity bit set).
func (c Code) Failed() bool {
	return int32(c) < 0
}

// String returns the translated message for c.
func (c Code) String() string {
	return Message(uint32(c))
}

// Entry is one row of the status table.
type Entry struct {
	Code uint32 `yaml:"code"`
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Message renders the entry as "<name>: <text> (0x<code>)".
func (e Entry) Message() string {
	return fmt.Sprintf("%s: %s (0x%08X)", e.Name, e.Text, e.Code)
}

type table struct {
	WBEM []Entry `yaml:"wbem"`
	RPC  []Entry `yaml:"rpc"`
}

//go:embed codes.yaml
var codesYAML []byte

var (
	loadOnce sync.Once
	entries  map[uint32]Entry
	loadErr  error
)

func load() {
	var t table
	if err := yaml.Unmarshal(codesYAML, &t); err != nil {
		loadErr = fmt.Errorf("decode status table: %w", err)
		return
	}
	entries = make(map[uint32]Entry, len(t.WBEM)+len(t.RPC))
	for _, group := range [][]Entry{t.WBEM, t.RPC} {
		for _, e := range group {
			entries[e.Code] = e
		}
	}
}

// Lookup returns the table entry for code.
func Lookup(code uint32) (Entry, bool) {
	loadOnce.Do(load)
	e, ok := entries[code]
	return e, ok
}

// Message returns the human-readable category for code.
func Message(code uint32) string {
	if e, ok := Lookup(code); ok {
		return e.Message()
	}
	return fmt.Sprintf("code: 0x%x.", code)
}

// Err reports a failure decoding the embedded table, if any.
func Err() error {
	loadOnce.Do(load)
	return loadErr
}

// Len returns the number of entries in the table.
func Len() int {
	loadOnce.Do(load)
	return len(entries)
}
