package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"

	wmicore "github.com/smnsjas/go-wmicore"
	"github.com/smnsjas/go-wmicore/wbem"
	"github.com/smnsjas/go-wmicore/wmierr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The remote call failed (protocol error, timeout, ...)
	ExitCommandError = 2 // Bad flags, profile or query text
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps a library error to an exit code. Errors the caller can
// fix by changing the command line exit with ExitCommandError.
func exitCodeFor(err error) int {
	switch wmierr.KindOf(err) {
	case wmierr.KindInvalidArgument, wmierr.KindQuerySyntax:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    string `json:"status_code,omitempty"`
}

// OutputFormatter renders results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
	Strings   *wbem.StringConverter
}

func (f *OutputFormatter) converter() *wbem.StringConverter {
	if f.Strings == nil {
		f.Strings = wbem.NewStringConverter()
	}
	return f.Strings
}

// Rows writes query results. Text output is a table with one column per
// key seen in any row.
func (f *OutputFormatter) Rows(rows []*wbem.Row) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: rows})
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(f.Writer, "No results.")
		return err
	}

	cols := wmicore.Columns(rows)
	conv := f.converter()
	tw := tabwriter.NewWriter(f.Writer, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	cells := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			cells[i] = conv.Convert(row.Value(c))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// Outputs writes method output parameters, one per line in key order.
func (f *OutputFormatter) Outputs(out map[string]any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: out})
	}

	conv := f.converter()
	for _, k := range slices.Sorted(maps.Keys(out)) {
		if _, err := fmt.Fprintf(f.Writer, "%s: %s\n", k, conv.Convert(out[k])); err != nil {
			return err
		}
	}
	return nil
}

// Error reports err. In JSON mode the envelope goes to Writer so scripts
// can parse it; in text mode nothing is written and the caller prints err.
func (f *OutputFormatter) Error(err error) error {
	if f.Format != "json" {
		return nil
	}
	e := &CLIError{Kind: "ERROR", Message: err.Error()}
	var werr *wmierr.Error
	if errors.As(err, &werr) {
		e.Kind = string(werr.Kind)
		if werr.Code != 0 {
			e.Code = fmt.Sprintf("0x%08X", werr.Code)
		}
	}
	return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: e})
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
