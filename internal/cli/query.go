package cli

import (
	"github.com/spf13/cobra"

	wmicore "github.com/smnsjas/go-wmicore"
)

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <wql>",
		Short: "Run a WQL query",
		Long: `Run a WQL query and print every result row.

Examples:
  wmi-query query "SELECT Name, State FROM Win32_Service"
  wmi-query -H server01 -u 'CORP\admin' --password-env WMI_PASSWORD \
    query "SELECT Caption FROM Win32_OperatingSystem"
  wmi-query -p prod --format json \
    query "ASSOCIATORS OF {Win32_Service.Name='Spooler'} WHERE ResultClass=Win32_Service"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, rootOpts, args[0])
		},
	}
}

func runQuery(cmd *cobra.Command, opts *RootOptions, text string) error {
	out := newFormatter(cmd, opts)
	t, err := resolveTarget(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out.VerboseLog("connecting to %s", t.resource)
	s, err := connect(ctx, cmd, opts, t)
	if err != nil {
		return fail(out, "connect", err)
	}
	defer s.Close()

	rows, err := wmicore.Execute(ctx, s, text, t.timeout.Milliseconds())
	if err != nil {
		return fail(out, "query", err)
	}
	out.VerboseLog("%d rows", len(rows))
	return out.Rows(rows)
}
