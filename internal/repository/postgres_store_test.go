package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"loanflow/pkg/models"
)

func TestSQLStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("workflowdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	db, dialect, err := OpenDB(ctx, "pgx", connStr, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store, err := NewSQLStore(db, dialect)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	t.Run("Create and Transition", func(t *testing.T) {
		id := uuid.New().String()
		require.NoError(t, store.Create(ctx, &models.WorkflowRecord{ID: id, Status: models.StatusInitial, CurrentStep: 1}))

		created, err := store.CreateIfAbsent(ctx, &models.WorkflowRecord{ID: id, Status: models.StatusInitial, CurrentStep: 1})
		require.NoError(t, err)
		assert.False(t, created)

		_, err = store.Transition(ctx, id, models.StatusInProgress, 1)
		require.NoError(t, err)
		rec, err := store.Transition(ctx, id, models.StatusCompleted, 2)
		require.NoError(t, err)

		retrieved, err := store.Get(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, rec.Status, retrieved.Status)
		assert.Equal(t, 2, retrieved.CurrentStep)
	})

	t.Run("Append and List Steps", func(t *testing.T) {
		id := uuid.New().String()
		e := &models.StepLogEntry{WorkflowID: id, Step: 1, Status: models.StepSuccessful, Comment: "ok"}
		require.NoError(t, store.AppendStep(ctx, e))
		assert.NotZero(t, e.ID)

		steps, err := store.ListSteps(ctx, id)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "ok", steps[0].Comment)
	})
}
