package logger

// Output controls what the CLI prints to stdout at each verbosity level.
// Log levels filter log lines by severity; output categories filter the
// command's own output by kind.
//
//	0 (default) - results, errors with hints, final status
//	1 (-v)      - + rebuild notices, tree statistics
//	2 (-vv)     - + per-command timing, effective config
//	3 (-vvv)    - + store attributes dump

// OutputCategory defines a category of output that can be enabled/disabled
type OutputCategory int

const (
	OutputResults OutputCategory = iota // listings, trees, info
	OutputErrors                        // errors with hints
	OutputStatus                        // final success/failure line

	OutputRebuild   // "tree rebuilt" notices from watch and shell
	OutputTreeStats // group/data counts after a mutation

	OutputTiming // per-command elapsed time
	OutputConfig // effective config source

	OutputStoreAttrs // raw container attributes
)

var categoryLevels = map[OutputCategory]int{
	OutputResults: VerbosityUser,
	OutputErrors:  VerbosityUser,
	OutputStatus:  VerbosityUser,

	OutputRebuild:   VerbosityInfo,
	OutputTreeStats: VerbosityInfo,

	OutputTiming: VerbosityDebug,
	OutputConfig: VerbosityDebug,

	OutputStoreAttrs: VerbosityTrace,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityTrace
	}
	return verbosity >= minLevel
}

var categoryNames = map[OutputCategory]string{
	OutputResults:    "results",
	OutputErrors:     "errors",
	OutputStatus:     "status",
	OutputRebuild:    "rebuild",
	OutputTreeStats:  "tree-stats",
	OutputTiming:     "timing",
	OutputConfig:     "config",
	OutputStoreAttrs: "store-attrs",
}

// CategoryName returns the human-readable name for an output category
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}
