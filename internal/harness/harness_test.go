package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mandate-sh/mandate/internal/kernel"
)

func scenarioFiles(t *testing.T) []string {
	t.Helper()
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func TestScenarios(t *testing.T) {
	for _, path := range scenarioFiles(t) {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(scenario.Name, func(t *testing.T) {
			RunWithGolden(t, scenario)
		})
	}
}

// Every scenario run, including the invalidated ones, must replay to
// an identical audit log.
func TestScenariosReplay(t *testing.T) {
	for _, path := range scenarioFiles(t) {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.NoError(t, kernel.VerifyReplay(result.Kernel.Log()))
		})
	}
}

func TestScenariosAreDeterministic(t *testing.T) {
	for _, path := range scenarioFiles(t) {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(scenario.Name, func(t *testing.T) {
			first, err := Run(scenario)
			require.NoError(t, err)
			again, err := Run(scenario)
			require.NoError(t, err)

			assert.Equal(t, first.Trace, again.Trace)
			assert.Equal(t, first.FinalMode, again.FinalMode)
			assert.Equal(t, first.Kernel.Log().LastHash(), again.Kernel.Log().LastHash())
		})
	}
}
