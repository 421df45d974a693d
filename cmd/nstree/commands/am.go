package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/nstree/am"
	"github.com/teranos/nstree/errors"
)

func newAmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "am",
		Short: "Manage nstree configuration",
		Long: `am - Manage nstree configuration ("I am")

Configuration sources (in order of precedence):
1. Command line flags (--store, -v, --json-log)
2. Environment variables (NSTREE_* prefix)
3. Project config (am.toml, searched upward from the working directory)
4. User config (~/.nstree/am.toml)
5. System config (/etc/nstree/am.toml)
6. Default values

--config FILE replaces 3-5 with FILE.

Examples:
  nstree am show                  # Show current configuration
  nstree am show --format json    # Show configuration in JSON format
  nstree am where                 # Show where each value comes from
  nstree am init                  # Write defaults to ~/.nstree/am.toml`,
	}
	cmd.AddCommand(newAmShowCmd(), newAmWhereCmd(), newAmInitCmd())
	return cmd
}

func newAmShowCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the effective nstree configuration from all sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := activeConfig
			out := cmd.OutOrStdout()

			switch format {
			case "json":
				data, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return errors.Wrap(err, "failed to marshal config to JSON")
				}
				fmt.Fprintln(out, string(data))
			case "yaml":
				data, err := yaml.Marshal(cfg)
				if err != nil {
					return errors.Wrap(err, "failed to marshal config to YAML")
				}
				fmt.Fprintf(out, "# nstree configuration\n%s", data)
			case "toml":
				data, err := am.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "# nstree configuration\n%s", data)
			default:
				return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "toml", "Output format: toml, json, yaml")
	return cmd
}

func newAmWhereCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "where",
		Short: "Show where each configuration value comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			intro, err := am.GetConfigIntrospection()
			if err != nil {
				return err
			}

			data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
			for _, s := range intro.Settings {
				data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
			}
			if storeFlag != "" {
				data = append(data, []string{"store.path", storeFlag, "flag", "--store"})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newAmInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [PATH]",
		Short: "Write the default configuration to a file",
		Long: `Write the built-in defaults as TOML to PATH (default ~/.nstree/am.toml).
An existing file is only replaced with --force; the previous versions are
kept as .back1 to .back3.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := initPath(args)
			if err != nil {
				return err
			}
			if err := am.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("wrote", path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func initPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.WithHint(errors.Wrap(err, "cannot locate home directory"), "pass a PATH explicitly")
	}
	return filepath.Join(home, ".nstree", am.ConfigFileName), nil
}
