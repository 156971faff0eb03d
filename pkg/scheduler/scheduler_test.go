package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/playbook/pkg/models"
	"github.com/dukex/playbook/pkg/persistence/file"
	"github.com/dukex/playbook/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStarter struct {
	mu     sync.Mutex
	starts map[string][]map[string]any
}

func (r *recordingStarter) Start(_ context.Context, definitionID string, input map[string]any, _ workflow.StartOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.starts == nil {
		r.starts = make(map[string][]map[string]any)
	}

	r.starts[definitionID] = append(r.starts[definitionID], input)

	return "execution-" + definitionID, nil
}

func (r *recordingStarter) count(definitionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.starts[definitionID])
}

func definition(name, schedule string) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		Name:     name,
		Schedule: schedule,
		Steps:    []*models.StepSpec{{ID: "a", Kind: models.StepKindNoop}},
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *workflow.Repository, *recordingStarter) {
	t.Helper()

	repo := workflow.NewRepository(file.NewPersistence(t.TempDir()))
	starter := &recordingStarter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewScheduler(repo, starter, logger, time.Hour, workflow.StartOptions{}), repo, starter
}

func TestScheduler_FiresScheduledDefinitions(t *testing.T) {
	t.Parallel()

	s, repo, starter := newTestScheduler(t)

	every, err := repo.Create(t.Context(), definition("Every second", "@every 1s"))
	require.NoError(t, err)

	manual, err := repo.Create(t.Context(), definition("Manual", ""))
	require.NoError(t, err)

	require.NoError(t, s.Start(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = s.Stop(ctx)
	})

	assert.Equal(t, []string{every.ID}, s.Scheduled())

	require.Eventually(t, func() bool {
		return starter.count(every.ID) > 0
	}, 5*time.Second, 50*time.Millisecond)

	assert.Zero(t, starter.count(manual.ID))

	starter.mu.Lock()
	trigger := starter.starts[every.ID][0]["trigger"].(map[string]any)
	starter.mu.Unlock()
	assert.Equal(t, "schedule", trigger["type"])
}

func TestScheduler_SyncTracksChanges(t *testing.T) {
	t.Parallel()

	s, repo, _ := newTestScheduler(t)

	nightly, err := repo.Create(t.Context(), definition("Nightly", "0 2 * * *"))
	require.NoError(t, err)

	broken, err := repo.Create(t.Context(), definition("Broken", "not a cron"))
	require.NoError(t, err)

	require.NoError(t, s.Sync(t.Context()))
	assert.Equal(t, []string{nightly.ID}, s.Scheduled())

	first := s.jobs[nightly.ID].entryID

	nightly.Schedule = "0 3 * * *"
	_, err = repo.Update(t.Context(), nightly.ID, nightly)
	require.NoError(t, err)

	require.NoError(t, s.Sync(t.Context()))
	assert.NotEqual(t, first, s.jobs[nightly.ID].entryID)
	assert.Equal(t, "0 3 * * *", s.jobs[nightly.ID].schedule)

	require.NoError(t, repo.Delete(t.Context(), nightly.ID))
	require.NoError(t, repo.Delete(t.Context(), broken.ID))

	require.NoError(t, s.Sync(t.Context()))
	assert.Empty(t, s.Scheduled())
}
