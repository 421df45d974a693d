package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nstree/namespace"
)

func newMkgrpCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mkgrp PARENT NAME",
		Short:   "Create a group",
		Example: `  nstree mkgrp /data run1`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if _, err := m.CreateGroup(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("created", namespace.JoinPath(args[0], args[1])))
				reportTree(cmd, m)
				return nil
			})
		},
	}
}

func newMkdataCmd() *cobra.Command {
	var (
		shape []int
		dtype string
	)
	cmd := &cobra.Command{
		Use:   "mkdata PARENT NAME",
		Short: "Create a data item",
		Example: `  nstree mkdata /data/run1 frame --shape 4,4 --dtype float32
  nstree mkdata /data/run1 "scalar value" --dtype int64`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if _, err := m.CreateData(ctx, args[0], args[1], shape, dtype); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("created", namespace.JoinPath(args[0], args[1])))
				reportTree(cmd, m)
				return nil
			})
		},
	}
	cmd.Flags().IntSliceVar(&shape, "shape", nil, "Dimensions, e.g. 4,4 (empty for a scalar)")
	cmd.Flags().StringVar(&dtype, "dtype", "float64", "Element type")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [GROUP]",
		Short: "List a group's children in order",
		Long:  "List the direct children of GROUP (default /) with their rank, kind, shape and dtype.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := namespace.RootPath
			if len(args) == 1 {
				path = args[0]
			}
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				id, err := m.Resolve(path)
				if err != nil {
					return err
				}
				t := m.Tree()
				if !t.IsGroup(id) {
					fmt.Fprintln(cmd.OutOrStdout(), describe(t, id))
					return nil
				}

				data := pterm.TableData{{"RANK", "NAME", "KIND", "SHAPE", "DTYPE"}}
				for name, child := range t.Children(id) {
					data = append(data, []string{
						strconv.Itoa(t.Rank(child)),
						name,
						t.Kind(child).String(),
						formatShape(t, child),
						t.DType(child),
					})
				}
				if len(data) == 1 {
					return nil
				}
				table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mv ITEM DEST",
		Short:   "Move an item under another group",
		Example: `  nstree mv /scratch/tmp /data`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if err := m.MoveItem(ctx, args[0], args[1]); err != nil {
					return err
				}
				name := args[0][strings.LastIndex(args[0], namespace.Separator)+1:]
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("moved to", namespace.JoinPath(args[1], name)))
				return nil
			})
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename PATH NEW_NAME",
		Short: "Rename an item in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if err := m.RenameItem(ctx, args[0], args[1]); err != nil {
					return err
				}
				id, err := m.Resolve(args[0][:strings.LastIndex(args[0], namespace.Separator)+1] + args[1])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("renamed to", m.Tree().Path(id)))
				return nil
			})
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm PATH",
		Short: "Delete an item and everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if err := m.DeleteItem(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintln("deleted", args[0]))
				reportTree(cmd, m)
				return nil
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Compare the tree against the store",
		Long: `Walk the in-memory tree and the store side by side and
report every item present in one but not the other, or of a different kind.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				if err := m.Verify(ctx); err != nil {
					return err
				}
				groups, data := m.Tree().Count()
				fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("consistent: %d groups, %d data", groups, data))
				return nil
			})
		},
	}
}

// describe renders one item as "path kind [shape] dtype".
func describe(t *namespace.Tree, id namespace.NodeID) string {
	if t.IsGroup(id) {
		return t.Path(id) + " group"
	}
	return fmt.Sprintf("%s data %s %s", t.Path(id), formatShape(t, id), t.DType(id))
}

func formatShape(t *namespace.Tree, id namespace.NodeID) string {
	if t.IsGroup(id) {
		return ""
	}
	dims := make([]string, len(t.Shape(id)))
	for i, d := range t.Shape(id) {
		dims[i] = strconv.Itoa(d)
	}
	return "[" + strings.Join(dims, " ") + "]"
}
