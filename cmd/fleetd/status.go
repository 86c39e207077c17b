package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetd/pkg/client"
)

// ClientFlags selects the status API to talk to.
type ClientFlags struct {
	URL      string
	Timeout  time.Duration
	CACert   string
	Insecure bool
	Token    string
	User     string
	JSON     bool
}

func (f *ClientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.URL, "url", client.DefaultBaseURL, "status API base URL")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA bundle for a self-signed server")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("FLEETD_TOKEN"), "bearer token (default $FLEETD_TOKEN)")
	cmd.Flags().StringVar(&f.User, "user", "", "basic auth as name:password")
}

func (f *ClientFlags) client() (*client.Client, error) {
	user, pw, _ := strings.Cut(f.User, ":")
	return client.New(client.Config{
		BaseURL:  f.URL,
		Timeout:  f.Timeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
		Token:    f.Token,
		Username: user,
		Password: pw,
	})
}

func createStatusCommand() *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show the services of a running supervisor",
		Long: `Query the status API of a running supervisor. Requires [server] listen
to be set in its config.

Examples:
  fleetd status
  fleetd status http --url=https://127.0.0.1:8443/api --insecure`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			var sts []client.ServiceStatus
			if len(args) == 1 {
				st, err := c.ServiceStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				sts = append(sts, st)
			} else if sts, err = c.Status(cmd.Context()); err != nil {
				return err
			}
			if flags.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sts)
			}
			return printStatus(cmd.OutOrStdout(), sts)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createReconcileCommand() *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one orphaned-record sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			n, err := c.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "repaired %d record(s)\n", n)
			return err
		},
	}
	flags.bind(cmd)
	return cmd
}

func printStatus(w io.Writer, sts []client.ServiceStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tPORT\tRESTARTS\tLAST EXIT")
	for _, s := range sts {
		if !s.Needed && s.State == "idle" {
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Name, s.State, dash(s.PID), dash(s.Port), s.Restarts, s.LastExit)
	}
	return tw.Flush()
}

func dash(v int) string {
	if v == 0 {
		return "-"
	}
	return strconv.Itoa(v)
}
