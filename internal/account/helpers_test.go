package account

import (
	"context"
	"database/sql/driver"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/account-admin/internal/identity"
	"github.com/iliyamo/account-admin/internal/model"
	"github.com/iliyamo/account-admin/internal/queue"
	"github.com/iliyamo/account-admin/internal/repository"
)

type mockProvider struct{ mock.Mock }

func (m *mockProvider) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	args := m.Called(ctx, email, password, displayName)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) UpdateIdentity(ctx context.Context, ref string, f identity.Fields) error {
	return m.Called(ctx, ref, f).Error(0)
}

func (m *mockProvider) DeleteIdentity(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

type recordingReconciler struct {
	mu    sync.Mutex
	tasks []queue.ReconcileTask
}

func (r *recordingReconciler) Enqueue(_ context.Context, t queue.ReconcileTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *recordingReconciler) Tasks() []queue.ReconcileTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.ReconcileTask(nil), r.tasks...)
}

type fixture struct {
	c     *Coordinator
	sql   sqlmock.Sqlmock
	idp   *mockProvider
	recon *recordingReconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, sm, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{sql: sm, idp: &mockProvider{}, recon: &recordingReconciler{}}
	f.c = New(Deps{
		DB:            db,
		Users:         repository.NewUserRepo(db),
		Profiles:      repository.NewProfileRepo(db),
		Activity:      repository.NewActivityRepo(db),
		Bookings:      repository.NewBookingRepo(db),
		Provider:      f.idp,
		Reconciler:    f.recon,
		Logger:        zerolog.Nop(),
		RemoteTimeout: 50 * time.Millisecond,
	})
	return f
}

// verify asserts that every expected statement and provider call happened
// and nothing else did.
func (f *fixture) verify(t *testing.T) {
	t.Helper()
	require.NoError(t, f.sql.ExpectationsWereMet())
	f.idp.AssertExpectations(t)
}

var (
	admin      = model.Actor{ID: 1, Role: model.RoleAdmin}
	superAdmin = model.Actor{ID: 2, Role: model.RoleSuperAdmin}
	customer   = model.Actor{ID: 5, Role: model.RoleCustomer}

	userCols    = []string{"id", "username", "email", "role", "mobile_number", "remote_ref", "created_by", "created_at", "updated_at"}
	profileCols = []string{"user_id", "first_name", "last_name", "profile_picture"}
	fixedTime   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func userRow(id int64, username, email string, role model.Role, ref driver.Value) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).AddRow(id, username, email, string(role), nil, ref, nil, fixedTime, fixedTime)
}

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(n)
}

func strp(s string) *string { return &s }

func rolep(r model.Role) *model.Role { return &r }
