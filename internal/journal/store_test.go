package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesDatabase(t *testing.T) {
	dataDir := t.TempDir()
	s, err := Open(dataDir)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dataDir, "journal.db"))
	require.NoError(t, err, "journal.db not created")
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	id, err := s.BeginRun("transpile")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	runs, err := s.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "running", runs[0].Status)
	require.Equal(t, "transpile", runs[0].Stage)

	require.NoError(t, s.FinishRun(id, "completed", "42 converted"))
	runs, err = s.Runs(10)
	require.NoError(t, err)
	require.Equal(t, "completed", runs[0].Status)
	require.NotEmpty(t, runs[0].FinishedAt)
}

func TestFailures(t *testing.T) {
	s := openStore(t)
	id, err := s.BeginRun("transpile")
	require.NoError(t, err)

	require.NoError(t, s.RecordFailure(id, "transpile", "parse_config", "RETRY_EXHAUSTED", "build repair budget exhausted"))
	require.NoError(t, s.RecordFailure(id, "optimize", "src/ported/util.rs", "SNAPSHOT_ROLLBACK", "docs pass reverted"))

	all, err := s.Failures("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	transpileOnly, err := s.Failures("transpile")
	require.NoError(t, err)
	require.Len(t, transpileOnly, 1)
	require.Equal(t, "parse_config", transpileOnly[0].Unit)
	require.Equal(t, "RETRY_EXHAUSTED", transpileOnly[0].Code)
}

func TestRecordBuildOutcome(t *testing.T) {
	s := openStore(t)
	id, err := s.BeginRun("transpile")
	require.NoError(t, err)

	require.NoError(t, s.RecordBuildOutcome(id, "add", "check", false, []string{"type_mismatch"}))
	require.NoError(t, s.RecordBuildOutcome(id, "add", "check", true, nil))
}

func TestRunsLimit(t *testing.T) {
	s := openStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.BeginRun("scan")
		require.NoError(t, err)
	}
	runs, err := s.Runs(3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
}

func TestReopenKeepsHistory(t *testing.T) {
	dataDir := t.TempDir()
	s, err := Open(dataDir)
	require.NoError(t, err)
	id, err := s.BeginRun("scan")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(id, "completed", ""))
	require.NoError(t, s.Close())

	s2, err := Open(dataDir)
	require.NoError(t, err)
	defer s2.Close()
	runs, err := s2.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestFailuresForRunsScopesToGivenRuns(t *testing.T) {
	s := openStore(t)

	old, err := s.BeginRun("transpile")
	require.NoError(t, err)
	require.NoError(t, s.RecordFailure(old, "transpile", "parse_config", "RETRY_EXHAUSTED", "first attempt"))
	require.NoError(t, s.FinishRun(old, "completed", ""))

	current, err := s.BeginRun("transpile")
	require.NoError(t, err)
	require.NoError(t, s.RecordFailure(current, "transpile", "write_output", "RETRY_EXHAUSTED", "still failing"))

	scoped, err := s.FailuresForRuns([]string{current})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, "write_output", scoped[0].Unit)

	none, err := s.FailuresForRuns(nil)
	require.NoError(t, err)
	require.Empty(t, none)
}
