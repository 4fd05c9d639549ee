//go:build windows

package native

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	ole "github.com/go-ole/go-ole"
	"golang.org/x/sys/windows"

	"github.com/smnsjas/go-wmicore/objects"
	"github.com/smnsjas/go-wmicore/status"
)

var (
	ole32                    = windows.NewLazySystemDLL("ole32.dll")
	procCoInitializeSecurity = ole32.NewProc("CoInitializeSecurity")
	procCoSetProxyBlanket    = ole32.NewProc("CoSetProxyBlanket")

	oleaut32                = windows.NewLazySystemDLL("oleaut32.dll")
	procSafeArrayGetElement = oleaut32.NewProc("SafeArrayGetElement")

	clsidWbemLocator      = ole.NewGUID("4590f811-1d3a-11d0-891f-00aa004b2e24")
	iidWbemLocator        = ole.NewGUID("dc12a687-737f-11cf-884d-00aa004b2e24")
	clsidWbemContext      = ole.NewGUID("674B6698-EE92-11D0-AD71-00C04FD8FDFF")
	iidWbemContext        = ole.NewGUID("44ACA674-E8FC-11D0-A07C-00C04FB68820")
	iidWbemClassObject    = ole.NewGUID("dc12a681-737f-11cf-884d-00aa004b2e24")
	errUnsupportedVariant = errors.New("native: unsupported variant value")
)

// Dispatch slots used internally.
const (
	slotRelease        = 2
	slotConnectServer  = 3
	slotObjectGet      = 4
	slotObjectGetNames = 7
	slotEnumNext       = 4
	slotExecQuery      = 20
)

const (
	rpcAuthnLevelDefault = 0
	wbemInfinite         = -1
	typeMismatch         = status.Code(0x80041005)
)

// coAuthIdentity mirrors COAUTHIDENTITY.
type coAuthIdentity struct {
	User           *uint16
	UserLength     uint32
	Domain         *uint16
	DomainLength   uint32
	Password       *uint16
	PasswordLength uint32
	Flags          uint32
}

type identity struct {
	auth     coAuthIdentity
	user     []uint16
	domain   []uint16
	password []uint16
}

type library struct {
	mu         sync.Mutex
	variants   map[Handle]*ole.VARIANT
	identities map[Handle]*identity
}

// Open returns the platform COM implementation.
func Open() (Native, error) {
	if err := ole32.Load(); err != nil {
		return nil, fmt.Errorf("native: load ole32: %w", err)
	}
	return &library{
		variants:   make(map[Handle]*ole.VARIANT),
		identities: make(map[Handle]*identity),
	}, nil
}

// invoke calls slot on the object's vtable.
func invoke(this Handle, slot int, args ...uintptr) status.Code {
	vtbl := *(*uintptr)(unsafe.Pointer(this))
	fn := *(*uintptr)(unsafe.Pointer(vtbl + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	params := make([]uintptr, 0, len(args)+1)
	params = append(params, uintptr(this))
	params = append(params, args...)
	hr, _, _ := syscall.SyscallN(fn, params...)
	return status.Code(uint32(hr))
}

func codeOf(err error) status.Code {
	if err == nil {
		return status.OK
	}
	var oleErr *ole.OleError
	if errors.As(err, &oleErr) {
		return status.Code(uint32(oleErr.Code()))
	}
	return status.CallFailed
}

func (l *library) ThreadID() uint32 {
	return windows.GetCurrentThreadId()
}

func (l *library) Initialize() status.Code {
	code := codeOf(ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED))
	if code.Failed() {
		return code
	}

	hr, _, _ := procCoInitializeSecurity.Call(
		0,
		uintptr(0xFFFFFFFF),
		0,
		0,
		uintptr(rpcAuthnLevelDefault),
		uintptr(ImpLevelImpersonate),
		0,
		uintptr(EOACNone),
		0)
	if sec := status.Code(uint32(hr)); sec.Failed() && sec != status.TooLate {
		return sec
	}
	return status.OK
}

func (l *library) Uninitialize() {
	ole.CoUninitialize()
}

func (l *library) CreateLocator() (Handle, status.Code) {
	unk, err := ole.CreateInstance(clsidWbemLocator, iidWbemLocator)
	if err != nil {
		return NullHandle, codeOf(err)
	}
	return Handle(unsafe.Pointer(unk)), status.OK
}

func (l *library) CreateContext() (Handle, status.Code) {
	unk, err := ole.CreateInstance(clsidWbemContext, iidWbemContext)
	if err != nil {
		return NullHandle, codeOf(err)
	}
	return Handle(unsafe.Pointer(unk)), status.OK
}

func (l *library) ConnectServer(locator Handle, resource, user string, password []byte, ctx Handle) (Handle, status.Code) {
	res := ole.SysAllocStringLen(resource)
	defer ole.SysFreeString(res)

	var usr, pwd *int16
	if user != "" {
		usr = ole.SysAllocStringLen(user)
		defer ole.SysFreeString(usr)
	}
	if password != nil {
		pwd = ole.SysAllocStringLen(string(password))
		defer ole.SysFreeString(pwd)
	}

	var services Handle
	code := invoke(locator, slotConnectServer,
		uintptr(unsafe.Pointer(res)),
		uintptr(unsafe.Pointer(usr)),
		uintptr(unsafe.Pointer(pwd)),
		0, // locale
		0, // security flags
		0, // authority
		uintptr(ctx),
		uintptr(unsafe.Pointer(&services)))
	if code.Failed() {
		return NullHandle, code
	}
	return services, code
}

func (l *library) NewIdentity(id *objects.AuthIdentity) (Handle, error) {
	user, err := windows.UTF16FromString(id.User)
	if err != nil {
		return NullHandle, fmt.Errorf("native: user name: %w", err)
	}
	domain, err := windows.UTF16FromString(id.Domain)
	if err != nil {
		return NullHandle, fmt.Errorf("native: domain: %w", err)
	}
	password, err := windows.UTF16FromString(string(id.Password))
	if err != nil {
		return NullHandle, fmt.Errorf("native: password: %w", err)
	}

	ident := &identity{user: user, domain: domain, password: password}
	ident.auth = coAuthIdentity{
		User:           &user[0],
		UserLength:     uint32(len(user) - 1),
		Domain:         &domain[0],
		DomainLength:   uint32(len(domain) - 1),
		Password:       &password[0],
		PasswordLength: uint32(len(password) - 1),
		Flags:          id.Flags,
	}

	h := Handle(unsafe.Pointer(&ident.auth))
	l.mu.Lock()
	l.identities[h] = ident
	l.mu.Unlock()
	return h, nil
}

func (l *library) FreeIdentity(h Handle) {
	l.mu.Lock()
	ident := l.identities[h]
	delete(l.identities, h)
	l.mu.Unlock()
	if ident == nil {
		return
	}
	for i := range ident.password {
		ident.password[i] = 0
	}
}

func (l *library) SetProxyBlanket(proxy Handle, identity Handle) status.Code {
	hr, _, _ := procCoSetProxyBlanket.Call(
		uintptr(proxy),
		uintptr(AuthnDefault),
		uintptr(AuthzDefault),
		0,
		uintptr(AuthnLevelCall),
		uintptr(ImpLevelImpersonate),
		uintptr(identity),
		uintptr(EOACNone))
	return status.Code(uint32(hr))
}

func (l *library) ExecQuery(services Handle, language, query string, flags int32) (Handle, status.Code) {
	lang := ole.SysAllocStringLen(language)
	defer ole.SysFreeString(lang)
	q := ole.SysAllocStringLen(query)
	defer ole.SysFreeString(q)

	var cursor Handle
	code := invoke(services, slotExecQuery,
		uintptr(unsafe.Pointer(lang)),
		uintptr(unsafe.Pointer(q)),
		uintptr(flags),
		0,
		uintptr(unsafe.Pointer(&cursor)))
	if code.Failed() {
		return NullHandle, code
	}
	return cursor, code
}

func (l *library) Next(cursor Handle, timeout time.Duration) (Handle, status.Code) {
	ms := int64(wbemInfinite)
	if timeout >= 0 {
		ms = min(timeout.Milliseconds(), math.MaxInt32)
	}

	var obj Handle
	var returned uint32
	code := invoke(cursor, slotEnumNext,
		uintptr(int32(ms)),
		1,
		uintptr(unsafe.Pointer(&obj)),
		uintptr(unsafe.Pointer(&returned)))
	if code.Failed() || returned == 0 {
		return NullHandle, code
	}
	return obj, code
}

func (l *library) GetNames(obj Handle) ([]string, status.Code) {
	var names *ole.SafeArray
	code := invoke(obj, slotObjectGetNames, 0, 0, 0, uintptr(unsafe.Pointer(&names)))
	if code.Failed() {
		return nil, code
	}
	if names == nil {
		return []string{}, code
	}
	sac := ole.SafeArrayConversion{Array: names}
	defer sac.Release()
	return sac.ToStringArray(), code
}

func (l *library) Get(obj Handle, name string) (any, uint32, status.Code) {
	pname, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, 0, status.InvalidArg
	}

	var v ole.VARIANT
	ole.VariantInit(&v)
	defer ole.VariantClear(&v)

	var cimType int32
	code := invoke(obj, slotObjectGet,
		uintptr(unsafe.Pointer(pname)),
		0,
		uintptr(unsafe.Pointer(&v)),
		uintptr(unsafe.Pointer(&cimType)),
		0)
	if code.Failed() {
		return nil, 0, code
	}

	payload, err := fromVariant(&v)
	if err != nil {
		return nil, 0, typeMismatch
	}
	return payload, uint32(cimType), code
}

// fromVariant copies v into a Go payload. Embedded objects are returned as
// new references the caller owns.
func fromVariant(v *ole.VARIANT) (any, error) {
	switch {
	case v.VT == ole.VT_EMPTY || v.VT == ole.VT_NULL:
		return nil, nil
	case v.VT == ole.VT_ARRAY|ole.VT_UNKNOWN:
		return unknownArray(v.ToArray())
	case v.VT&ole.VT_ARRAY != 0:
		return v.ToArray().ToValueArray(), nil
	case v.VT == ole.VT_UNKNOWN:
		return classObject(v.ToIUnknown())
	default:
		return v.Value(), nil
	}
}

func classObject(unk *ole.IUnknown) (Handle, error) {
	if unk == nil {
		return NullHandle, nil
	}
	obj, err := unk.QueryInterface(iidWbemClassObject)
	if err != nil {
		return NullHandle, err
	}
	return Handle(unsafe.Pointer(obj)), nil
}

func unknownArray(sac *ole.SafeArrayConversion) ([]any, error) {
	total, err := sac.TotalElements(0)
	if err != nil {
		return nil, err
	}

	out := make([]any, total)
	for i := int32(0); i < total; i++ {
		var unk *ole.IUnknown
		procSafeArrayGetElement.Call(
			uintptr(unsafe.Pointer(sac.Array)),
			uintptr(unsafe.Pointer(&i)),
			uintptr(unsafe.Pointer(&unk)))
		if unk == nil {
			continue
		}
		h, err := classObject(unk)
		unk.Release()
		if err != nil {
			for _, prev := range out[:i] {
				if p, ok := prev.(Handle); ok {
					release(p)
				}
			}
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

func (l *library) NewVariant(value any) (Handle, error) {
	v := new(ole.VARIANT)
	ole.VariantInit(v)

	switch x := value.(type) {
	case nil:
		*v = ole.NewVariant(ole.VT_NULL, 0)
	case string:
		*v = ole.NewVariant(ole.VT_BSTR, int64(uintptr(unsafe.Pointer(ole.SysAllocStringLen(x)))))
	case int32:
		*v = ole.NewVariant(ole.VT_I4, int64(x))
	case int:
		*v = ole.NewVariant(ole.VT_I4, int64(int32(x)))
	case bool:
		b := int64(0)
		if x {
			b = -1
		}
		*v = ole.NewVariant(ole.VT_BOOL, b)
	case Handle:
		(*ole.IUnknown)(unsafe.Pointer(x)).AddRef()
		*v = ole.NewVariant(ole.VT_UNKNOWN, int64(x))
	default:
		return NullHandle, fmt.Errorf("%w: %T", errUnsupportedVariant, value)
	}

	h := Handle(unsafe.Pointer(v))
	l.mu.Lock()
	l.variants[h] = v
	l.mu.Unlock()
	return h, nil
}

func (l *library) FreeVariant(h Handle) {
	l.mu.Lock()
	v := l.variants[h]
	delete(l.variants, h)
	l.mu.Unlock()
	if v != nil {
		ole.VariantClear(v)
	}
}

func (l *library) Invoke(this Handle, index CallIndex, args ...Arg) status.Code {
	params := make([]uintptr, 0, len(args))
	var keep []*uint16
	var bstrs []*int16
	defer func() {
		for _, b := range bstrs {
			ole.SysFreeString(b)
		}
	}()

	for _, a := range args {
		switch v := a.(type) {
		case BSTR:
			b := ole.SysAllocStringLen(string(v))
			bstrs = append(bstrs, b)
			params = append(params, uintptr(unsafe.Pointer(b)))
		case WString:
			p, err := windows.UTF16PtrFromString(string(v))
			if err != nil {
				return status.InvalidArg
			}
			keep = append(keep, p)
			params = append(params, uintptr(unsafe.Pointer(p)))
		case Int32:
			params = append(params, uintptr(v))
		case In:
			params = append(params, uintptr(v))
		case Out:
			params = append(params, uintptr(unsafe.Pointer(v.Handle)))
		case VariantRef:
			l.mu.Lock()
			ptr := l.variants[Handle(v)]
			l.mu.Unlock()
			if ptr == nil {
				return status.InvalidArg
			}
			params = append(params, uintptr(unsafe.Pointer(ptr)))
		default:
			return status.InvalidArg
		}
	}

	code := invoke(this, int(index), params...)
	runtime.KeepAlive(keep)
	return code
}

func (l *library) Release(h Handle) error {
	release(h)
	return nil
}

func release(h Handle) {
	if h == NullHandle {
		return
	}
	invoke(h, slotRelease)
}
