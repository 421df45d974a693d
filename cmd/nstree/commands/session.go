package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/teranos/nstree/am"
	"github.com/teranos/nstree/container"
	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
	"github.com/teranos/nstree/namespace"
	"github.com/teranos/nstree/version"
)

// session is one manager bound to the configured store path.
type session struct {
	manager  *namespace.Manager
	registry *prometheus.Registry
}

// shellSession is set while the shell runs; commands reuse its open store
// instead of opening their own.
var shellSession *session

func newSession(ctx context.Context, cfg *am.Config) (*session, error) {
	backend := container.NewSQLiteBackend(
		container.WithLogger(logger.ComponentLogger("container")),
		container.WithFormatConstraint(cfg.Store.FormatConstraint),
		container.WithReservedGroups(cfg.Store.DataGroup, cfg.Store.ScratchGroup),
		container.WithCreatedBy(version.Get().Stamp()),
	)

	metrics := namespace.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return nil, errors.Wrap(err, "failed to register metrics")
	}

	m := namespace.New(backend, namespace.WithMetrics(metrics))
	m.SetStorePath(ctx, cfg.Store.Path)
	return &session{manager: m, registry: registry}, nil
}

// finish closes the store, if open, and writes the metrics textfile when
// one was requested.
func (s *session) finish(ctx context.Context) error {
	err := s.manager.CloseStore(ctx)
	if metricsTextfileFlag != "" {
		if werr := prometheus.WriteToTextfile(metricsTextfileFlag, s.registry); werr != nil {
			logger.Warnw("Failed to write metrics textfile",
				logger.FieldPath, metricsTextfileFlag,
				logger.FieldError, werr)
		}
	}
	return err
}

// withManager runs fn against the configured store, opened for the
// duration of the call. Inside the shell the session's store is used and
// left open.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *namespace.Manager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if shellSession != nil {
		return fn(ctx, shellSession.manager)
	}

	start := time.Now()
	s, err := newSession(ctx, activeConfig)
	if err != nil {
		return err
	}
	if _, err := s.manager.OpenStore(ctx); err != nil {
		_ = s.finish(ctx)
		return err
	}

	err = fn(ctx, s.manager)
	if cerr := s.finish(ctx); err == nil {
		err = cerr
	}

	if shouldOutput(logger.OutputTiming) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s took %s\n", cmd.CommandPath(), time.Since(start).Round(time.Microsecond))
	}
	return err
}

func shouldOutput(category logger.OutputCategory) bool {
	return logger.ShouldOutput(verbosity(activeConfig), category)
}

// reportTree prints group and data counts after a mutation at -v.
func reportTree(cmd *cobra.Command, m *namespace.Manager) {
	if !shouldOutput(logger.OutputTreeStats) {
		return
	}
	groups, data := m.Tree().Count()
	fmt.Fprintf(cmd.OutOrStdout(), "tree: %d groups, %d data\n", groups, data)
}
