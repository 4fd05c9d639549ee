// Package cli implements the wmi-query command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	wmicore "github.com/smnsjas/go-wmicore"
	"github.com/smnsjas/go-wmicore/session"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ProfileFile string
	Profile     string
	Host        string
	Namespace   string
	Username    string
	PasswordEnv string
	Timeout     time.Duration

	// SessionOptions apply to every connection the command opens.
	SessionOptions []session.Option
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. sessionOpts are passed to every
// connection.
func NewRootCommand(sessionOpts ...session.Option) *cobra.Command {
	opts := &RootOptions{SessionOptions: sessionOpts}

	cmd := &cobra.Command{
		Use:           "wmi-query",
		Short:         "Query WMI providers over DCOM",
		Long:          "Run WQL queries and invoke methods against local or remote WMI namespaces.",
		Version:       wmicore.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log protocol activity to stderr")
	f.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	f.StringVar(&opts.ProfileFile, "config", "wmi-query.yaml", "profile file")
	f.StringVarP(&opts.Profile, "profile", "p", "", "profile name to load from the profile file")
	f.StringVarP(&opts.Host, "host", "H", "", "target host (empty for the local machine)")
	f.StringVarP(&opts.Namespace, "namespace", "n", DefaultNamespace, "WMI namespace")
	f.StringVarP(&opts.Username, "username", "u", "", `user name, as DOMAIN\user or user@domain`)
	f.StringVar(&opts.PasswordEnv, "password-env", "", "environment variable holding the password")
	f.DurationVarP(&opts.Timeout, "timeout", "t", DefaultTimeout, "time limit for the whole call")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))

	return cmd
}

// target is a resolved connection target.
type target struct {
	resource string
	username string
	secret   []byte
	timeout  time.Duration
}

// resolveTarget merges the selected profile with the flags; a flag set on
// the command line wins over the profile.
func resolveTarget(cmd *cobra.Command, opts *RootOptions) (*target, error) {
	p := &Profile{}
	if opts.Profile != "" {
		loaded, err := LoadProfile(opts.ProfileFile, opts.Profile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load profile", err)
		}
		p = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") || p.Host == "" {
		p.Host = opts.Host
	}
	if flags.Changed("namespace") || p.Namespace == "" {
		p.Namespace = opts.Namespace
	}
	if flags.Changed("username") || p.Username == "" {
		p.Username = opts.Username
	}
	if flags.Changed("password-env") || p.PasswordEnv == "" {
		p.PasswordEnv = opts.PasswordEnv
	}
	if flags.Changed("timeout") || p.Timeout == 0 {
		p.Timeout = Duration(opts.Timeout)
	}

	secret, err := p.Secret()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "read password", err)
	}
	return &target{
		resource: p.Resource(),
		username: p.Username,
		secret:   secret,
		timeout:  p.TimeoutOrDefault(),
	}, nil
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// connect opens a session to t. With --verbose the session logs to stderr.
func connect(ctx context.Context, cmd *cobra.Command, opts *RootOptions, t *target) (*session.Session, error) {
	sessionOpts := slices.Clone(opts.SessionOptions)
	if opts.Verbose {
		sessionOpts = append(sessionOpts, session.WithLogger(newLogger(cmd.ErrOrStderr())))
	}
	return wmicore.Connect(ctx, t.resource, t.username, t.secret, sessionOpts...)
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fail reports err through out and wraps it with an exit code.
func fail(out *OutputFormatter, message string, err error) error {
	if werr := out.Error(err); werr != nil {
		return werr
	}
	return WrapExitError(exitCodeFor(err), message, err)
}
