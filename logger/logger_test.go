package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		verbosity  int
	}{
		{name: "JSON output mode", jsonOutput: true, verbosity: 0},
		{name: "Console output mode", jsonOutput: false, verbosity: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			previous := Logger
			t.Cleanup(func() {
				Logger = previous
				JSONOutput = false
			})

			Logger = nil
			JSONOutput = false

			require.NoError(t, Initialize(tt.jsonOutput, tt.verbosity))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.True(t, Logger.Desugar().Core().Enabled(VerbosityToLevel(tt.verbosity)))
		})
	}
}

func TestHelpersTolerateNilLogger(t *testing.T) {
	previous := Logger
	t.Cleanup(func() { Logger = previous })
	Logger = nil

	assert.NotPanics(t, func() {
		Infow("info")
		Warnw("warn")
		Errorw("error")
		Debugw("debug")
		Cleanup()
	})
}

func TestHelpersWriteStructuredFields(t *testing.T) {
	previous := Logger
	t.Cleanup(func() { Logger = previous })

	core, logs := observer.New(zapcore.DebugLevel)
	Logger = zap.New(core).Sugar()

	Infow("group created", FieldPath, "/data/run1", FieldOperation, "create_group")

	entries := logs.FilterMessage("group created").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/data/run1", entries[0].ContextMap()[FieldPath])
	assert.Equal(t, "create_group", entries[0].ContextMap()[FieldOperation])
}

func TestComponentLogger(t *testing.T) {
	previous := Logger
	t.Cleanup(func() { Logger = previous })

	core, logs := observer.New(zapcore.InfoLevel)
	Logger = zap.New(core).Sugar()

	ChildLogger(ComponentLogger("namespace"), FieldStore, "t.h5db").Infow("opened")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "namespace", entries[0].LoggerName)
	assert.Equal(t, "t.h5db", entries[0].ContextMap()[FieldStore])
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(-1))
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(VerbosityUser))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(VerbosityInfo))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(VerbosityDebug))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "User", LevelName(0))
	assert.Equal(t, "Debug (-vv)", LevelName(2))
	assert.Equal(t, "Trace (-vvv+)", LevelName(9))
	assert.Equal(t, "Unknown", LevelName(-3))
	assert.True(t, ShouldLogTrace(3))
	assert.False(t, ShouldLogTrace(2))
}

func TestShouldOutput(t *testing.T) {
	assert.True(t, ShouldOutput(VerbosityUser, OutputResults))
	assert.False(t, ShouldOutput(VerbosityUser, OutputRebuild))
	assert.True(t, ShouldOutput(VerbosityInfo, OutputRebuild))
	assert.False(t, ShouldOutput(VerbosityInfo, OutputTiming))
	assert.True(t, ShouldOutput(VerbosityDebug, OutputTiming))
	assert.True(t, ShouldOutput(VerbosityTrace, OutputStoreAttrs))

	// unknown categories need the highest verbosity
	assert.False(t, ShouldOutput(VerbosityDebug, OutputCategory(99)))
	assert.Equal(t, "unknown", CategoryName(OutputCategory(99)))
	assert.Equal(t, "timing", CategoryName(OutputTiming))
}
