// Package commands implements the nstree command line.
package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nstree/am"
	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
	"github.com/teranos/nstree/namespace"
)

// Global flags, rebound by every NewRootCmd call.
var (
	configFlag          string
	storeFlag           string
	verboseFlag         int
	jsonLogFlag         bool
	noColorFlag         bool
	metricsTextfileFlag string
)

// NewRootCmd builds the nstree command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nstree",
		Short: "nstree - hierarchical namespace over a container file",
		Long: `nstree - hierarchical namespace over a container file

nstree keeps an in-memory tree of groups and data items in lockstep with a
container store on disk. Every mutation is validated, applied to the store,
and only then mirrored in the tree.

Available commands:
  store   - Create, open, inspect and remove container files
  mkgrp   - Create a group
  mkdata  - Create a data item
  ls      - List a group's children in order
  tree    - Print a subtree
  mv      - Move an item under another group
  rename  - Rename an item in place
  rm      - Delete an item and everything below it
  verify  - Compare the tree against the store
  watch   - Rebuild the tree when another process writes the store
  shell   - Interactive session against one open store
  am      - Manage nstree configuration ("I am")

Examples:
  nstree store create --store run.h5db
  nstree mkgrp /data run1
  nstree mkdata /data/run1 "image 0" --shape 512,512 --dtype uint16
  nstree tree /data -o yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFlag, "config", "", "Config file (skips system, user and project am.toml)")
	flags.StringVar(&storeFlag, "store", "", "Container file (overrides store.path)")
	flags.CountVarP(&verboseFlag, "verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	flags.BoolVar(&jsonLogFlag, "json-log", false, "Write logs as JSON")
	flags.BoolVar(&noColorFlag, "no-color", false, "Disable colored output")
	flags.StringVar(&metricsTextfileFlag, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")

	root.AddCommand(ItemCommands()...)
	root.AddCommand(newStoreCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newShellCmd())
	root.AddCommand(newAmCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// ItemCommands returns fresh instances of the commands that operate on an
// open store. The shell builds a new set for every line it runs.
func ItemCommands() []*cobra.Command {
	return []*cobra.Command{
		newMkgrpCmd(),
		newMkdataCmd(),
		newLsCmd(),
		newTreeCmd(),
		newMvCmd(),
		newRenameCmd(),
		newRmCmd(),
		newVerifyCmd(),
	}
}

// activeConfig is the configuration loaded by setup for this invocation.
var activeConfig *am.Config

// setup loads configuration, applies flag overrides and initializes logging.
func setup() error {
	am.Reset()
	var (
		cfg *am.Config
		err error
	)
	if configFlag != "" {
		cfg, err = am.LoadFromFile(configFlag)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if storeFlag != "" {
		cfg.Store.Path = storeFlag
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if noColorFlag {
		pterm.DisableColor()
	}
	if err := logger.Initialize(jsonLogFlag || cfg.Log.JSON, verbosity(cfg)); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}

	activeConfig = cfg
	return nil
}

// verbosity is the larger of the -v count and log.verbosity.
func verbosity(cfg *am.Config) int {
	if cfg != nil && cfg.Log.Verbosity > verboseFlag {
		return cfg.Log.Verbosity
	}
	return verboseFlag
}

// ExitCode maps an error to the process exit status.
//
//	1 other, 2 invalid input, 3 tree and store out of sync, 4 store I/O
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, namespace.ErrConsistencyViolation):
		return 3
	case errors.Is(err, namespace.ErrStoreIO):
		return 4
	case namespace.IsValidationError(err):
		return 2
	default:
		return 1
	}
}
