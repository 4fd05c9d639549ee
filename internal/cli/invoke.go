package cli

import (
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	wmicore "github.com/smnsjas/go-wmicore"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Class string
	Args  string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <object-path> <method>",
		Short: "Invoke a method on a WMI object",
		Long: `Invoke a method on a WMI object or class and print its output parameters.

Inputs are given as a JSON object. Values must be strings, integers that
fit in 32 bits, or null.

Examples:
  wmi-query invoke Win32_Process Create --args '{"CommandLine":"notepad.exe"}'
  wmi-query -H server01 invoke 'Win32_Process.Handle="812"' Terminate --args '{"Reason":0}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.Class, "class", "", "class defining the method (default: the class in the object path)")
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "method inputs as JSON")

	return cmd
}

func runInvoke(cmd *cobra.Command, opts *InvokeOptions, path, method string) error {
	inputs, err := parseInputs(opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --args JSON", err)
	}
	class := opts.Class
	if class == "" {
		class = classOf(path)
	}

	out := newFormatter(cmd, opts.RootOptions)
	t, err := resolveTarget(cmd, opts.RootOptions)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out.VerboseLog("connecting to %s", t.resource)
	s, err := connect(ctx, cmd, opts.RootOptions, t)
	if err != nil {
		return fail(out, "connect", err)
	}
	defer s.Close()

	result, err := wmicore.InvokeMethod(ctx, s, path, class, method, inputs)
	if err != nil {
		return fail(out, "invoke", err)
	}
	return out.Outputs(result)
}

// classOf returns the class part of an object path such as
// Win32_Process.Handle="4" or \\host\root\cimv2:Win32_Process.
func classOf(path string) string {
	if i := strings.IndexByte(path, ':'); i >= 0 && strings.ContainsAny(path[:i], `\/`) {
		path = path[i+1:]
	}
	if i := strings.IndexAny(path, ".="); i >= 0 {
		path = path[:i]
	}
	return path
}

// parseInputs decodes a JSON object of method inputs. Numbers become ints.
func parseInputs(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}

	inputs := make(map[string]any, len(m))
	for name, v := range m {
		switch v := v.(type) {
		case nil, string:
			inputs[name] = v
		case interface{ Int64() (int64, error) }:
			n, err := v.Int64()
			if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("input %s: %v is not a 32-bit integer", name, v)
			}
			inputs[name] = int(n)
		default:
			return nil, fmt.Errorf("input %s: unsupported value %v", name, v)
		}
	}
	return inputs, nil
}
