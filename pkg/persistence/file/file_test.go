package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence"
	"github.com/dukex/playbook/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	fp := NewPersistence("/tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)

	fp = NewPersistence("file:///tmp/test")
	assert.Equal(t, "/tmp/test", fp.root)
}

func TestPersistence_Conformance(t *testing.T) {
	t.Parallel()

	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		t.Helper()

		return NewPersistence(t.TempDir())
	})
}

func TestPersistence_HealthCheckMissingRoot(t *testing.T) {
	t.Parallel()

	fp := NewPersistence(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, fp.HealthCheck(t.Context()), os.ErrNotExist)
}

func TestPersistence_RejectsPathTraversal(t *testing.T) {
	t.Parallel()

	fp := NewPersistence(t.TempDir())

	_, err := fp.LoadDefinition(t.Context(), "../../etc/passwd")
	require.ErrorIs(t, err, persistence.ErrInvalidID)

	_, err = fp.LoadExecutionSnapshot(t.Context(), "../escape")
	require.ErrorIs(t, err, persistence.ErrInvalidID)

	err = fp.SaveDefinition(t.Context(), &models.WorkflowDefinition{ID: "a/b"})
	require.ErrorIs(t, err, persistence.ErrInvalidID)
}

func TestPersistence_EscapesNodeIDs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	fp := NewPersistence(root)

	execution := persistencetest.Execution("def")
	require.NoError(t, fp.SaveExecution(t.Context(), execution))
	require.NoError(t, fp.SaveNodeState(t.Context(), execution.ID, &models.NodeState{
		NodeID: "../outside",
		Status: models.NodeStatusPending,
	}))

	assert.FileExists(t, filepath.Join(root, "executions", execution.ID, "nodes", "..%2Foutside.json"))

	snapshot, err := fp.LoadExecutionSnapshot(t.Context(), execution.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Nodes, 1)
	assert.Equal(t, "../outside", snapshot.Nodes[0].NodeID)
}
