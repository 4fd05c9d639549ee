// Package wbem converts typed CIM property values into result rows.
//
// A property read from the server arrives as a payload plus a CIM type tag.
// Convert maps the pair to one or more row fields:
//
//   - scalars become Go values (bool, int8 … uint32, float32, float64, string)
//   - 64-bit integers stay decimal strings so no precision is lost
//   - references lose their "\\host\namespace:" prefix
//   - datetimes become time.Time in the value's own fixed offset
//   - arrays convert element by element
//   - embedded objects expand requested sub-properties into "Parent.Sub" keys
//
// Rows keep their keys in insertion order and encode to JSON as ordered
// objects.
package wbem

import "fmt"

// CIMType is the type tag that accompanies every property value.
type CIMType uint32

// CIM type tags.
const (
	CIMEmpty     CIMType = 0
	CIMSint16    CIMType = 2
	CIMSint32    CIMType = 3
	CIMReal32    CIMType = 4
	CIMReal64    CIMType = 5
	CIMString    CIMType = 8
	CIMBoolean   CIMType = 11
	CIMObject    CIMType = 13
	CIMSint8     CIMType = 16
	CIMUint8     CIMType = 17
	CIMUint16    CIMType = 18
	CIMUint32    CIMType = 19
	CIMSint64    CIMType = 20
	CIMUint64    CIMType = 21
	CIMDateTime  CIMType = 101
	CIMReference CIMType = 102
	CIMChar16    CIMType = 103

	// CIMFlagArray marks an array of the base type.
	CIMFlagArray CIMType = 0x2000
)

// IsArray reports whether t carries the array flag.
func (t CIMType) IsArray() bool {
	return t&CIMFlagArray != 0
}

// Elem returns t without the array flag.
func (t CIMType) Elem() CIMType {
	return t &^ CIMFlagArray
}

// String returns the CIM name of t.
func (t CIMType) String() string {
	if t.IsArray() {
		return t.Elem().String() + "[]"
	}
	switch t {
	case CIMEmpty:
		return "CIM_EMPTY"
	case CIMSint8:
		return "CIM_SINT8"
	case CIMUint8:
		return "CIM_UINT8"
	case CIMSint16:
		return "CIM_SINT16"
	case CIMUint16:
		return "CIM_UINT16"
	case CIMSint32:
		return "CIM_SINT32"
	case CIMUint32:
		return "CIM_UINT32"
	case CIMSint64:
		return "CIM_SINT64"
	case CIMUint64:
		return "CIM_UINT64"
	case CIMReal32:
		return "CIM_REAL32"
	case CIMReal64:
		return "CIM_REAL64"
	case CIMBoolean:
		return "CIM_BOOLEAN"
	case CIMString:
		return "CIM_STRING"
	case CIMDateTime:
		return "CIM_DATETIME"
	case CIMReference:
		return "CIM_REFERENCE"
	case CIMChar16:
		return "CIM_CHAR16"
	case CIMObject:
		return "CIM_OBJECT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(t))
	}
}
