package member

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"pettrack-auth/internal/db"
	"pettrack-auth/internal/identity"
	"pettrack-auth/internal/token"
)

// Integration tests against a throwaway PostgreSQL:
//
//	GO_TEST_INTEGRATION=1 go test ./internal/member -v -count=1
func startPostgres(t *testing.T) *Repository {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "pettrack"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/pettrack?sslmode=disable", host, port.Port())

	database := mustOpen(t, dsn)
	t.Cleanup(func() { _ = database.Close() })

	applied, err := db.RunMigrations(ctx, database)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	again, err := db.RunMigrations(ctx, database)
	require.NoError(t, err)
	require.Empty(t, again)

	return NewRepository(database)
}

func mustOpen(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	var (
		database *sql.DB
		err      error
	)
	// The listening port can open before postgres accepts connections.
	require.Eventually(t, func() bool {
		database, err = db.Open(context.Background(), dsn, db.PoolOptions{MaxOpenConns: 10, MaxIdleConns: 5})
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	return database
}

func TestRepository_FindOrProvision(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()
	profile := identity.Profile{Email: "A@B.com", Name: "A", AvatarURL: "https://img/a.png"}

	created, err := repo.FindOrProvision(ctx, identity.ProviderGoogle, profile)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", created.Email)
	require.Equal(t, StatusRegister, created.Status)
	require.Equal(t, token.RoleUser, created.Role)
	require.Equal(t, string(identity.ProviderGoogle), created.Provider)
	require.True(t, created.Pending())

	again, err := repo.FindOrProvision(ctx, identity.ProviderNaver, profile)
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID)
	require.Equal(t, string(identity.ProviderGoogle), again.Provider)
}

func TestRepository_FindOrProvision_ConcurrentSameEmail(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()
	profile := identity.Profile{Email: "race@b.com", Name: "R"}

	const callers = 6
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := repo.FindOrProvision(ctx, identity.ProviderKakao, profile)
			ids[i], errs[i] = m.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
}

func TestRepository_CompleteRegistration(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	_, err := repo.FindOrProvision(ctx, identity.ProviderGoogle, identity.Profile{Email: "new@b.com", Name: "N"})
	require.NoError(t, err)

	activated, err := repo.CompleteRegistration(ctx, "new@b.com", " Nova ")
	require.NoError(t, err)
	require.Equal(t, StatusActive, activated.Status)
	require.Equal(t, "Nova", activated.Name)

	_, err = repo.CompleteRegistration(ctx, "new@b.com", "Nova")
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = repo.CompleteRegistration(ctx, "missing@b.com", "M")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_UpdateStatusAndDeleteStalePending(t *testing.T) {
	repo := startPostgres(t)
	ctx := context.Background()

	pending, err := repo.FindOrProvision(ctx, identity.ProviderGoogle, identity.Profile{Email: "pending@b.com"})
	require.NoError(t, err)
	suspended, err := repo.FindOrProvision(ctx, identity.ProviderGoogle, identity.Profile{Email: "suspended@b.com"})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, suspended.ID, StatusSuspended))
	require.ErrorIs(t, repo.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", StatusActive), ErrNotFound)

	deleted, err := repo.DeleteStalePending(ctx, time.Now().UTC().Add(time.Minute), 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	_, err = repo.GetByEmail(ctx, pending.Email)
	require.ErrorIs(t, err, ErrNotFound)

	kept, err := repo.GetByEmail(ctx, suspended.Email)
	require.NoError(t, err)
	require.True(t, kept.Status.Restricted())
}
