package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetd/pkg/template"
)

// InitFlags holds flags for the init command
type InitFlags struct {
	Profile string
	Output  string
	APIs    string
	DataDir string
	Force   bool
}

func createInitCommand() *cobra.Command {
	flags := &InitFlags{}
	gen := template.NewGenerator()
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter fleetd.toml",
		Long: fmt.Sprintf(`Render a starter configuration for one of the profiles: %s.

Examples:
  fleetd init                                  # local profile to stdout
  fleetd init --profile=secure --output=fleetd.toml
  fleetd init --profile=workers --data-dir=/var/lib/fleetd`, strings.Join(gen.GetSupportedTypes(), ", ")),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var apis []string
			for _, a := range strings.Split(flags.APIs, ",") {
				if a = strings.TrimSpace(a); a != "" {
					apis = append(apis, a)
				}
			}
			data, err := gen.Generate(template.TemplateType(flags.Profile), template.Options{APIs: apis, DataDir: flags.DataDir})
			if err != nil {
				return err
			}
			if flags.Output == "" || flags.Output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			mode := os.O_CREATE | os.O_WRONLY | os.O_EXCL
			if flags.Force {
				mode = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			}
			f, err := os.OpenFile(flags.Output, mode, 0o644)
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("%s already exists (use --force)", flags.Output)
			}
			if err != nil {
				return err
			}
			if _, err := f.Write(data); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flags.Output)
			return err
		},
	}
	cmd.Flags().StringVar(&flags.Profile, "profile", string(template.TypeLocal), "starter profile")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "file to write (default stdout)")
	cmd.Flags().StringVar(&flags.APIs, "apis", "", "comma separated apis to pin in the file")
	cmd.Flags().StringVar(&flags.DataDir, "data-dir", "", "directory for storage, marks and certificates (default ./data)")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing file")
	return cmd
}
