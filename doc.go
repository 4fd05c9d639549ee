// Package wmicore is a client for the WBEM/CIM management service reached
// over DCOM.
//
// It opens sessions against a resource (a host and a namespace), runs WQL
// queries and returns typed result rows, and invokes methods on remote
// objects. It is the only layer that speaks the protocol; consumers such as
// remote process launchers build on it.
//
// # Architecture
//
// The library is organized into layers:
//
//   - wmicore: boundary helpers shared by consumers
//   - session: connections, query execution, method invocation and the
//     shared session registry
//   - wql: query parsing and canonical text
//   - wbem: CIM types, value conversion and result rows
//   - timeout: time budgets for blocking waits
//   - status: status code translation
//   - wmierr: the error taxonomy
//   - objects: credentials and authentication identities
//   - native: the platform protocol library and its per-thread state
//
// # Basic Usage
//
//	s, err := wmicore.Connect(ctx, `\\server01\root\cimv2`, `CORP\admin`, secret)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	rows, err := wmicore.Execute(ctx, s, "SELECT Name, State FROM Win32_Service", 30000)
//	if err != nil {
//	    return err
//	}
//	for _, row := range rows {
//	    fmt.Println(row.Value("Name"), row.Value("State"))
//	}
//
// # Platform Support
//
// The protocol library only exists on Windows. On other platforms Connect
// fails with an illegal state error; tests use the in-memory library in
// native/nativetest.
package wmicore

// Version is the library version.
const Version = "0.1.0-dev"
