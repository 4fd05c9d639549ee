package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/smnsjas/go-wmicore/native"
	"github.com/smnsjas/go-wmicore/status"
	"github.com/smnsjas/go-wmicore/timeout"
	"github.com/smnsjas/go-wmicore/wbem"
	"github.com/smnsjas/go-wmicore/wmierr"
	"github.com/smnsjas/go-wmicore/wql"
)

// QueryLanguage is the only query language the service accepts.
const QueryLanguage = "WQL"

// Execute parses text and runs it with ExecuteQuery.
func (s *Session) Execute(ctx context.Context, text string, limit time.Duration) ([]*wbem.Row, error) {
	q, err := wql.Parse(text)
	if err != nil {
		return nil, err
	}
	return s.ExecuteQuery(ctx, q, limit)
}

// ExecuteQuery runs q and collects every result row. The whole call,
// including every wait for the next result, must complete within limit.
// A cancelled ctx ends the call with a timeout error.
//
// Rows are keyed by the property names the server reports, in the order the
// query selected them (or in server order for SELECT *). An empty result is
// an empty slice.
func (s *Session) ExecuteQuery(ctx context.Context, q *wql.Query, limit time.Duration) (rows []*wbem.Row, err error) {
	const op = "ExecQuery"

	if q == nil {
		return nil, wmierr.InvalidArgument(op, "query must not be nil")
	}
	if limit <= 0 {
		return nil, wmierr.InvalidArgument(op, "timeout must be positive, got %v", limit)
	}

	ctx, span := s.startSpan(ctx, "wmi.ExecQuery", attribute.String("wmi.query", q.Canonical()))
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.Int("wmi.rows", len(rows)))
		}
		endSpan(span, err)
	}()

	leave, err := s.enter(op)
	if err != nil {
		return nil, err
	}
	defer leave()

	message := fmt.Sprintf("no results after %v", limit)
	budget := timeout.NewBudget(s.clock, limit, message)

	cursor, code := s.native.ExecQuery(s.services, QueryLanguage, q.Canonical(),
		native.FlagForwardOnly|native.FlagReturnImmediately)
	if code.Failed() {
		return nil, queryError(op, code, q)
	}
	defer s.release(cursor)

	// A cursor is a proxy of its own.
	if code := s.native.SetProxyBlanket(cursor, s.identity); code.Failed() {
		return nil, protocolError(op, code, "could not set proxy blanket on cursor")
	}

	rows = []*wbem.Row{}
	var reqs []wbem.PropertyRequest
	for {
		if err := ctx.Err(); err != nil {
			return nil, &wmierr.Error{Kind: wmierr.KindTimeout, Op: op, Message: "query cancelled", Err: err}
		}
		remaining, err := budget.Remaining()
		if err != nil {
			return nil, err
		}

		obj, code := s.native.Next(cursor, remaining)
		switch {
		case code == status.False || code == status.NoMoreData:
			s.release(obj)
			s.logger.Debug("query completed", "rows", len(rows), "elapsed", budget.Elapsed())
			return rows, nil
		case code == status.TimedOut:
			s.release(obj)
			return nil, wmierr.Timeout(op, message)
		case code.Failed():
			return nil, queryError(op, code, q)
		}
		if obj == native.NullHandle {
			continue
		}

		row, err := s.convertRow(obj, q, &reqs)
		s.release(obj)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

// convertRow reads one result object. The first call resolves the
// requested properties into reqs; later calls reuse them.
func (s *Session) convertRow(h native.Handle, q *wql.Query, reqs *[]wbem.PropertyRequest) (*wbem.Row, error) {
	t := s.track()
	defer t.release()
	obj := t.object(h)

	if *reqs == nil {
		names, err := wbem.Names(obj)
		if err != nil {
			return nil, err
		}
		*reqs = requests(names, q)
	}
	return readRow(obj, *reqs)
}

func queryError(op string, code status.Code, q *wql.Query) error {
	if code == status.InvalidQuery {
		err := wmierr.QuerySyntax(op, "the query was not syntactically valid: %s", q.Canonical())
		err.Code = uint32(code)
		return err
	}
	return protocolError(op, code, "failed to enumerate results")
}
