package wmicore

import (
	"context"
	"math"
	"time"

	"github.com/smnsjas/go-wmicore/session"
	"github.com/smnsjas/go-wmicore/wbem"
	"github.com/smnsjas/go-wmicore/wmierr"
	"github.com/smnsjas/go-wmicore/wql"
)

var shared = session.NewRegistry()

// Connect opens a session to resource. An empty username and a nil secret
// connect as the calling user.
func Connect(ctx context.Context, resource, username string, secret []byte, opts ...session.Option) (*session.Session, error) {
	return session.Connect(ctx, resource, withCredentials(username, secret, opts)...)
}

// Acquire returns the process-wide shared session for resource, connecting
// it on first use. Each successful Acquire must be paired with one Close.
func Acquire(ctx context.Context, resource, username string, secret []byte, opts ...session.Option) (*session.Session, error) {
	return shared.Acquire(ctx, resource, withCredentials(username, secret, opts)...)
}

// Shared returns the process-wide registry used by Acquire.
func Shared() *session.Registry {
	return shared
}

func withCredentials(username string, secret []byte, opts []session.Option) []session.Option {
	if username == "" && secret == nil {
		return opts
	}
	return append([]session.Option{session.WithCredentials(username, secret)}, opts...)
}

// Execute parses text and runs it on s. The call must complete within
// timeoutMillis milliseconds.
func Execute(ctx context.Context, s *session.Session, text string, timeoutMillis int64) ([]*wbem.Row, error) {
	q, err := wql.Parse(text)
	if err != nil {
		return nil, err
	}
	return ExecuteQuery(ctx, s, q, timeoutMillis)
}

// ExecuteQuery runs a parsed query on s. The call must complete within
// timeoutMillis milliseconds.
func ExecuteQuery(ctx context.Context, s *session.Session, q *wql.Query, timeoutMillis int64) ([]*wbem.Row, error) {
	if s == nil {
		return nil, wmierr.InvalidArgument("ExecQuery", "session must not be nil")
	}
	if timeoutMillis <= 0 {
		return nil, wmierr.InvalidArgument("ExecQuery", "timeout must be positive, got %dms", timeoutMillis)
	}
	return s.ExecuteQuery(ctx, q, millis(timeoutMillis))
}

// millis converts a positive millisecond count to a Duration, saturating at
// the largest Duration.
func millis(n int64) time.Duration {
	if n > math.MaxInt64/int64(time.Millisecond) {
		return math.MaxInt64
	}
	return time.Duration(n) * time.Millisecond
}

// InvokeMethod runs method of class on the object at path and returns its
// output parameters.
func InvokeMethod(ctx context.Context, s *session.Session, path, class, method string, inputs map[string]any) (map[string]any, error) {
	if s == nil {
		return nil, wmierr.InvalidArgument("ExecMethod", "session must not be nil")
	}
	row, err := s.ExecuteMethod(ctx, path, class, method, inputs)
	if err != nil {
		return nil, err
	}
	return row.Map(), nil
}

// Columns returns the union of the keys of rows in first-seen order.
func Columns(rows []*wbem.Row) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, row := range rows {
		for _, k := range row.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	return cols
}
