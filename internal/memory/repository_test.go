package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	ctx := context.Background()

	out := map[string]Repository{"inmemory": NewInMemoryRepository()}

	sqliteRepo, err := NewSQLiteRepository(ctx, filepath.Join(t.TempDir(), "clinicguard.db"))
	require.NoError(t, err)
	out["sqlite"] = sqliteRepo

	if url := os.Getenv("CLINICGUARD_TEST_POSTGRES_URL"); url != "" {
		pgRepo, err := NewPostgresRepository(ctx, url)
		require.NoError(t, err)
		out["postgres"] = pgRepo
	}

	t.Cleanup(func() {
		for _, r := range out {
			_ = r.Close()
		}
	})
	return out
}

// uniquePhone keeps shared postgres databases from colliding across runs.
func uniquePhone(base string) string {
	return base + "-" + time.Now().Format("150405.000000000")
}

func TestRepositoryEnsureCallerIsIdempotent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			phone := uniquePhone("+15555550123")

			first, err := repo.EnsureCaller(ctx, phone)
			require.NoError(t, err)
			second, err := repo.EnsureCaller(ctx, phone)
			require.NoError(t, err)

			assert.Equal(t, first.ID, second.ID)
			assert.Equal(t, phone, second.PhoneNumber)
		})
	}
}

func TestRepositoryEnsureCallerConcurrent(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			phone := uniquePhone("+15555550199")

			ids := make([]int64, 8)
			var g errgroup.Group
			for i := range ids {
				g.Go(func() error {
					c, err := repo.EnsureCaller(ctx, phone)
					ids[i] = c.ID
					return err
				})
			}
			require.NoError(t, g.Wait())
			for _, id := range ids {
				assert.Equal(t, ids[0], id)
			}
		})
	}
}

func TestRepositoryCallLifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			caller, err := repo.EnsureCaller(ctx, uniquePhone("+15555550100"))
			require.NoError(t, err)

			callID := uniquePhone("CA-lifecycle")
			_, err = repo.GetCall(ctx, callID)
			assert.ErrorIs(t, err, ErrNotFound)

			created, err := repo.CreateCall(ctx, callID, caller.ID)
			require.NoError(t, err)
			assert.Equal(t, callID, created.CallID)
			assert.Equal(t, caller.ID, created.CallerID)
			assert.False(t, created.Ended())

			again, err := repo.CreateCall(ctx, callID, caller.ID)
			require.NoError(t, err)
			assert.Equal(t, created.ID, again.ID)

			ended, err := repo.EndCall(ctx, callID, "completed", time.Now())
			require.NoError(t, err)
			assert.True(t, ended)

			ended, err = repo.EndCall(ctx, callID, "expired", time.Now())
			require.NoError(t, err)
			assert.False(t, ended, "second end must not transition")

			got, err := repo.GetCall(ctx, callID)
			require.NoError(t, err)
			assert.True(t, got.Ended())
			assert.Equal(t, "completed", got.Outcome)

			_, err = repo.EndCall(ctx, "missing-"+callID, "completed", time.Now())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRepositoryTurnsKeepOrder(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			caller, err := repo.EnsureCaller(ctx, uniquePhone("+15555550101"))
			require.NoError(t, err)
			call, err := repo.CreateCall(ctx, uniquePhone("CA-turns"), caller.ID)
			require.NoError(t, err)

			base := time.Now().UTC()
			contents := []string{"Hi", "Hello! How can I help?", "Book a cleaning"}
			roles := []string{"user", "assistant", "user"}
			for i := range contents {
				_, err := repo.AppendTurn(ctx, TurnRecord{
					CallRecordID: call.ID,
					Role:         roles[i],
					Content:      contents[i],
					CreatedAt:    base.Add(time.Duration(i) * time.Millisecond),
				})
				require.NoError(t, err)
			}

			turns, err := repo.ListTurns(ctx, call.ID)
			require.NoError(t, err)
			require.Len(t, turns, 3)
			for i, turn := range turns {
				assert.Equal(t, roles[i], turn.Role)
				assert.Equal(t, contents[i], turn.Content)
			}
		})
	}
}

func TestRepositorySummariesMostRecentFirst(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			caller, err := repo.EnsureCaller(ctx, uniquePhone("+15555550102"))
			require.NoError(t, err)

			_, err = repo.LatestSummary(ctx, caller.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = repo.AddSummary(ctx, caller.ID, "first call")
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
			_, err = repo.AddSummary(ctx, caller.ID, "second call")
			require.NoError(t, err)

			latest, err := repo.LatestSummary(ctx, caller.ID)
			require.NoError(t, err)
			assert.Equal(t, "second call", latest.Text)

			all, err := repo.ListSummaries(ctx, caller.ID, 10)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "second call", all[0].Text)
			assert.Equal(t, "first call", all[1].Text)
		})
	}
}

func TestNewRepositorySelectsBackend(t *testing.T) {
	ctx := context.Background()

	repo, err := NewRepository(ctx, "memory")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryRepository{}, repo)

	path := filepath.Join(t.TempDir(), "nested", "calls.db")
	repo, err = NewRepository(ctx, "sqlite://"+path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	assert.IsType(t, &SQLiteRepository{}, repo)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
