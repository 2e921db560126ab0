// Command consultctl is the operator CLI for the consultation workflow API.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the settings shared by every command. Each root command owns
// its own viper instance so commands can be built more than once in tests.
type app struct {
	v   *viper.Viper
	out io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "consultctl",
		Short: "Operate consultation workflows",
		Long: `consultctl drives a consultd server over its HTTP API.

Settings come from flags or CONSULTCTL_* environment variables, e.g.
CONSULTCTL_SERVER, CONSULTCTL_SUBJECT and CONSULTCTL_TOKEN. When a token is
set it is sent as a bearer token, otherwise the subject and roles are sent
as identity headers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	a.v.SetEnvPrefix("CONSULTCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	flags := root.PersistentFlags()
	flags.String("server", "http://localhost:8080", "consultd base URL")
	flags.String("subject", "consultctl", "subject id sent in header identity mode")
	flags.String("roles", "", "comma separated roles sent in header identity mode")
	flags.String("token", "", "bearer token for jwt identity mode")
	flags.Duration("timeout", 30*time.Second, "request timeout")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"server", "subject", "roles", "token", "timeout", "json"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		a.listCmd(),
		a.getCmd(),
		a.createCmd(),
		a.advanceCmd(),
		a.consentCmd(),
		a.finalizeCmd(),
		a.trackCmd(),
		a.snapshotCmd(),
		a.alertsCmd(),
		a.ackCmd(),
		a.reportCmd(),
	)
	return root
}

func (a *app) client() *client {
	return newClient(
		a.v.GetString("server"),
		a.v.GetString("subject"),
		a.v.GetString("roles"),
		a.v.GetString("token"),
		a.v.GetDuration("timeout"),
	)
}
