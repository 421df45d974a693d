package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nstree/logger"
	"github.com/teranos/nstree/namespace"
)

func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage container files",
		Long: `Create, open, inspect and remove the container file selected by --store
or store.path.

Examples:
  nstree store create --store run.h5db
  nstree store info
  nstree store rm --store run.h5db`,
	}
	cmd.AddCommand(newStoreCreateCmd(), newStoreOpenCmd(), newStoreInfoCmd(), newStoreRmCmd())
	return cmd
}

// withSession runs fn with a manager whose store is not yet open.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, m *namespace.Manager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := newSession(ctx, activeConfig)
	if err != nil {
		return err
	}
	err = fn(ctx, s.manager)
	if cerr := s.finish(ctx); err == nil {
		err = cerr
	}
	return err
}

func newStoreCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new container file with the reserved groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if err := m.CreateStore(ctx); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("created", m.StorePath()))
				return nil
			})
		},
	}
}

func newStoreOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open the container file and build its tree",
		Long:  "Open the container file, check its format, build the tree and report its size.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				groups, data := m.Tree().Count()
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("opened %s: %d groups, %d data", m.StorePath(), groups, data))
				return nil
			})
		},
	}
}

func newStoreInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show container attributes and tree size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				info, err := m.StoreInfo(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Path:           %s\n", info.Path)
				fmt.Fprintf(out, "Store ID:       %s\n", shortID(info.StoreID))
				fmt.Fprintf(out, "Format:         %s %s\n", info.Format, info.FormatVersion)
				fmt.Fprintf(out, "Created:        %s by %s\n", info.CreatedAt, info.CreatedBy)
				fmt.Fprintf(out, "Reserved:       %s, %s\n", info.DataGroup, info.ScratchGroup)
				fmt.Fprintf(out, "Groups:         %d\n", info.Groups)
				fmt.Fprintf(out, "Data:           %d\n", info.Data)
				if shouldOutput(logger.OutputStoreAttrs) {
					fmt.Fprintf(out, "Store UUID:     %s\n", info.StoreID)
				}
				return nil
			})
		},
	}
}

func newStoreRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm",
		Short: "Delete the container file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if err := m.DeleteStoreFile(ctx); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("deleted", m.StorePath()))
				return nil
			})
		},
	}
}

// shortID renders a store UUID in base58, 22 characters instead of 36.
// Anything that does not parse is shown as is.
func shortID(storeID string) string {
	id, err := uuid.Parse(storeID)
	if err != nil {
		return storeID
	}
	return base58.Encode(id[:])
}
