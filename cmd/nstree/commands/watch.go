package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/teranos/nstree/am"
	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
	"github.com/teranos/nstree/namespace"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the tree when another process writes the store",
		Long: `Open the store and keep its tree current: every external write is
debounced (watch.debounce_ms) and triggers a full rebuild, throttled to
watch.max_rebuilds_per_second. Stops on Ctrl+C or when the file is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withManager(cmd, func(ctx context.Context, m *namespace.Manager) error {
				w, err := namespace.NewWatcher(m.StorePath(), activeConfig.Watch.Debounce(), logger.ComponentLogger("watcher"))
				if err != nil {
					return err
				}
				defer w.Close()
				w.Start()

				groups, data := m.Tree().Count()
				fmt.Fprint(cmd.OutOrStdout(), pterm.Info.Sprintfln("watching %s: %d groups, %d data", m.StorePath(), groups, data))
				return watchLoop(ctx, cmd, m, w, rebuildLimiter(activeConfig.Watch))
			})
		},
	}
}

// rebuildLimiter allows one rebuild at a time at the configured rate;
// zero means unlimited.
func rebuildLimiter(cfg am.WatchConfig) *rate.Limiter {
	if cfg.MaxRebuildsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(cfg.MaxRebuildsPerSecond), 1)
}

func watchLoop(ctx context.Context, cmd *cobra.Command, m *namespace.Manager, w *namespace.Watcher, limiter *rate.Limiter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-w.Changes():
			if change.Removed {
				return errors.WithHint(
					errors.Newf("store %s was removed", change.Path),
					"recreate it with 'nstree store create'")
			}
			if err := limiter.Wait(ctx); err != nil {
				// cancelled while throttled
				return nil
			}
			if err := rebuild(ctx, cmd, m); err != nil {
				return err
			}
		}
	}
}

// rebuild replaces the tree from the store and reports the new size.
func rebuild(ctx context.Context, cmd *cobra.Command, m *namespace.Manager) error {
	if err := m.BuildTree(ctx); err != nil {
		return err
	}
	groups, data := m.Tree().Count()
	fmt.Fprint(cmd.OutOrStdout(), pterm.Info.Sprintfln("rebuilt: %d groups, %d data", groups, data))
	return nil
}
