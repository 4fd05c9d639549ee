// Package session implements connections to a WBEM/CIM management service.
//
// # Overview
//
// A Session owns the native handles of one connection: the locator used to
// connect, the call context that pins 64-bit providers, the services proxy,
// and the optional authentication identity applied to every proxy. The
// handles are released exactly once, when the session is closed.
//
// # Lifecycle
//
//	Created: Connect is running
//	  │
//	  ├─→ Connected: queries and method calls are accepted
//	  │     │
//	  │     └─→ Closed: every call fails with an invalid state error
//	  │
//	  └─→ (failure): acquired handles are released in reverse order
//
// Queries and method calls hold the read side of the session's lock; Close
// takes the write side. A Close therefore waits for in-flight calls and no
// call can observe a half-closed session.
//
// # Usage Example
//
//	s, err := session.Connect(ctx, `\\server01\root\cimv2`,
//	    session.WithCredentials(`CORP\admin`, secret),
//	    session.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	rows, err := s.Execute(ctx, "SELECT Name, State FROM Win32_Service", 30*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, row := range rows {
//	    fmt.Println(row.Value("Name"), row.Value("State"))
//	}
//
// # Shared Sessions
//
// A Registry shares one Session per resource across callers and counts its
// users. Closing a shared session only tears it down when the last user
// closes it:
//
//	reg := session.NewRegistry()
//	s, err := reg.Acquire(ctx, `\\server01\root\cimv2`)
//
// # Threading
//
// Every native call runs with the calling goroutine pinned to its OS thread,
// and the thread is initialized for the protocol library on first use. See
// package native.
//
// # Error Handling
//
// All errors are *wmierr.Error values:
//
//   - ErrInvalidArgument: empty resource, credentials on a local resource,
//     non-positive timeout, unsupported method input
//   - ErrInvalidState: operation on a closed session
//   - ErrQuerySyntax: query rejected locally or by the server
//   - ErrTimeout: the query did not complete within its budget
//   - ErrProtocol: a native call failed; Code carries the status
//   - ErrIllegalState: the calling thread cannot use the protocol library
package session
