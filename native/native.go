// Package native is the narrow boundary to the platform's WMI/DCOM library.
//
// Everything above this package works with opaque Handles and status codes.
// The Windows implementation (Open on windows) drives COM through go-ole and
// raw vtable calls; other platforms report that WMI is unavailable. Tests use
// the in-memory implementation in package nativetest.
//
// # Threading
//
// The protocol library must be initialized on every OS thread that touches
// it. Apartment tracks which threads are initialized and pins the calling
// goroutine to its thread for the duration of a call:
//
//	leave, err := apt.Enter()
//	if err != nil {
//		return err
//	}
//	defer leave()
//
// # Ownership
//
// Every non-null Handle returned by a Native method is owned by the caller
// and must be passed to Release exactly once. Handles carried inside a
// payload returned by Get (embedded objects) are owned the same way.
package native

import (
	"strconv"
	"time"

	"github.com/smnsjas/go-wmicore/objects"
	"github.com/smnsjas/go-wmicore/status"
)

// Handle is an opaque reference to a native object.
type Handle uintptr

// NullHandle is the absent handle.
const NullHandle Handle = 0

// CallIndex is a method slot in a native object's dispatch table.
type CallIndex int

// Dispatch slots used through Invoke.
const (
	// ServicesGetObject is IWbemServices::GetObject.
	ServicesGetObject CallIndex = 6
	// ServicesExecMethod is IWbemServices::ExecMethod.
	ServicesExecMethod CallIndex = 24
	// ObjectPut is IWbemClassObject::Put.
	ObjectPut CallIndex = 5
	// ObjectSpawnInstance is IWbemClassObject::SpawnInstance.
	ObjectSpawnInstance CallIndex = 15
	// ObjectGetMethod is IWbemClassObject::GetMethod.
	ObjectGetMethod CallIndex = 19
	// ContextSetValue is IWbemContext::SetValue.
	ContextSetValue CallIndex = 8
)

// String names the slot.
func (c CallIndex) String() string {
	switch c {
	case ServicesGetObject:
		return "GetObject"
	case ServicesExecMethod:
		return "ExecMethod"
	case ObjectPut:
		return "Put"
	case ObjectSpawnInstance:
		return "SpawnInstance"
	case ObjectGetMethod:
		return "GetMethod"
	case ContextSetValue:
		return "SetValue"
	default:
		return "Call(" + strconv.Itoa(int(c)) + ")"
	}
}

// Query flags for ExecQuery.
const (
	FlagReturnImmediately int32 = 0x10
	FlagForwardOnly       int32 = 0x20
)

// Proxy blanket settings applied to every proxy.
const (
	AuthnDefault        uint32 = 0xFFFFFFFF
	AuthzDefault        uint32 = 0xFFFFFFFF
	AuthnLevelCall      uint32 = 3
	ImpLevelImpersonate uint32 = 3
	EOACNone            uint32 = 0
)

// Arg is an argument to Invoke.
type Arg interface {
	isArg()
}

// BSTR is a string passed as a length-prefixed BSTR allocated for the call.
type BSTR string

// WString is a string passed as a NUL-terminated UTF-16 pointer.
type WString string

// Int32 is a 32-bit integer argument.
type Int32 int32

// In passes an object reference; NullHandle passes null.
type In Handle

// Out receives an object reference owned by the caller.
type Out struct {
	Handle *Handle
}

// VariantRef passes a variant allocated with NewVariant.
type VariantRef Handle

func (BSTR) isArg()       {}
func (WString) isArg()    {}
func (Int32) isArg()      {}
func (In) isArg()         {}
func (Out) isArg()        {}
func (VariantRef) isArg() {}

// Native is the capability set the session layer needs from the platform.
// Status results follow HRESULT conventions: anything with the severity bit
// set is a failure.
type Native interface {
	// ThreadID identifies the calling OS thread.
	ThreadID() uint32
	// Initialize prepares the calling thread for protocol use.
	Initialize() status.Code
	// Uninitialize releases the calling thread's protocol state.
	Uninitialize()

	// CreateLocator creates the entry-point object used to connect.
	CreateLocator() (Handle, status.Code)
	// CreateContext creates an empty call context object.
	CreateContext() (Handle, status.Code)
	// ConnectServer opens a services proxy for resource.
	ConnectServer(locator Handle, resource, user string, password []byte, ctx Handle) (Handle, status.Code)
	// NewIdentity allocates the native form of an authentication identity.
	NewIdentity(identity *objects.AuthIdentity) (Handle, error)
	// FreeIdentity frees an identity from NewIdentity.
	FreeIdentity(identity Handle)
	// SetProxyBlanket sets authentication on a proxy. A NullHandle identity
	// uses the process identity. The identity must outlive the proxy.
	SetProxyBlanket(proxy Handle, identity Handle) status.Code

	// ExecQuery starts a query and returns a cursor.
	ExecQuery(services Handle, language, query string, flags int32) (Handle, status.Code)
	// Next waits up to timeout for the cursor's next object. A NullHandle
	// with a success status means no object was produced.
	Next(cursor Handle, timeout time.Duration) (Handle, status.Code)

	// GetNames lists an object's property names in server order.
	GetNames(obj Handle) ([]string, status.Code)
	// Get reads one property: its payload and its CIM type tag.
	Get(obj Handle, name string) (any, uint32, status.Code)

	// NewVariant allocates a variant holding value (nil, string, int32, or
	// Handle).
	NewVariant(value any) (Handle, error)
	// FreeVariant frees a variant from NewVariant.
	FreeVariant(v Handle)
	// Invoke calls a dispatch slot on this.
	Invoke(this Handle, index CallIndex, args ...Arg) status.Code

	// Release drops one reference to h.
	Release(h Handle) error
}
