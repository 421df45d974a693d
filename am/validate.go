package am

import (
	"github.com/Masterminds/semver/v3"

	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/namespace"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return errors.WithHint(errors.New("store.path cannot be empty"), "omit it for the default nstree.h5db")
	}

	// Reserved group names obey the same grammar as every other name
	if err := namespace.ValidateName(c.Store.DataGroup); err != nil {
		return errors.Wrap(err, "store.data_group")
	}
	if err := namespace.ValidateName(c.Store.ScratchGroup); err != nil {
		return errors.Wrap(err, "store.scratch_group")
	}
	if c.Store.DataGroup == c.Store.ScratchGroup {
		return errors.Newf("store.data_group and store.scratch_group must differ, both are %q", c.Store.DataGroup)
	}

	if _, err := semver.NewConstraint(c.Store.FormatConstraint); err != nil {
		return errors.Wrapf(err, "store.format_constraint %q", c.Store.FormatConstraint)
	}

	if c.Log.Verbosity < 0 {
		return errors.Newf("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}

	// Watch: 0 debounce falls back to the watcher default, negative is invalid
	if c.Watch.DebounceMS < 0 {
		return errors.Newf("watch.debounce_ms must be >= 0, got %d", c.Watch.DebounceMS)
	}
	// 0 = unlimited rebuilds
	if c.Watch.MaxRebuildsPerSecond < 0 {
		return errors.Newf("watch.max_rebuilds_per_second must be >= 0, got %f", c.Watch.MaxRebuildsPerSecond)
	}

	return nil
}
