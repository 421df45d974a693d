package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
	"github.com/teranos/nstree/namespace"
)

const shellPrompt = "nstree> "

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session against one open store",
		Long: `Open the store once and run item commands against it until EOF or "exit".
Lines are split like a POSIX shell, so names with spaces can be quoted:

  nstree> mkgrp /data "run 1"
  nstree> mkdata "/data/run 1" frame --shape 4,4
  nstree> tree

Writes by other processes are picked up before the next prompt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				w, err := namespace.NewWatcher(m.StorePath(), activeConfig.Watch.Debounce(), logger.ComponentLogger("watcher"))
				if err != nil {
					return err
				}
				defer w.Close()
				w.Start()

				shellSession = &session{manager: m}
				defer func() { shellSession = nil }()
				return runShell(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), m, w)
			})
		},
	}
}

// newShellRoot builds the command set available inside the shell.
func newShellRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "nstree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(ItemCommands()...)
	root.AddCommand(newStoreInfoCmd(), newRebuildCmd())
	return root
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the tree from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				return rebuild(ctx, cmd, m)
			})
		},
	}
}

// runShell reads commands from in until EOF. Errors from a command are
// printed and the session continues.
func runShell(ctx context.Context, in io.Reader, out io.Writer, m *namespace.Manager, w *namespace.Watcher) error {
	scanner := bufio.NewScanner(in)
	for {
		if err := pickUpChanges(ctx, out, m, w); err != nil {
			return err
		}
		fmt.Fprint(out, shellPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		args, err := shellquote.Split(line)
		if err != nil {
			fmt.Fprint(out, pterm.Error.Sprintln(err))
			continue
		}

		root := newShellRoot()
		root.SetArgs(args)
		root.SetIn(in)
		root.SetOut(out)
		root.SetErr(out)
		if err := root.ExecuteContext(ctx); err != nil {
			fmt.Fprint(out, pterm.Error.Sprintln(errors.UserMessage(err)))
		}
	}
}

// pickUpChanges rebuilds the tree if another process wrote the store since
// the last prompt. The watcher also reports the shell's own writes; Refresh
// tells them apart.
func pickUpChanges(ctx context.Context, out io.Writer, m *namespace.Manager, w *namespace.Watcher) error {
	select {
	case change := <-w.Changes():
		if change.Removed {
			return errors.Newf("store %s was removed", change.Path)
		}
		rebuilt, err := m.Refresh(ctx)
		if err != nil {
			return err
		}
		if rebuilt && shouldOutput(logger.OutputRebuild) {
			groups, data := m.Tree().Count()
			fmt.Fprint(out, pterm.Info.Sprintfln("store changed, tree rebuilt: %d groups, %d data", groups, data))
		}
	default:
	}
	return nil
}
