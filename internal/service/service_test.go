package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/account-admin/internal/identity"
	"github.com/iliyamo/account-admin/internal/model"
	"github.com/iliyamo/account-admin/internal/queue"
	"github.com/iliyamo/account-admin/internal/repository"
)

var userCols = []string{"id", "username", "email", "role", "mobile_number", "remote_ref", "created_by", "created_at", "updated_at"}

func newReconciler(t *testing.T) (*Reconciler, sqlmock.Sqlmock, *identity.MemoryProvider) {
	t.Helper()
	db, m, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	p := identity.NewMemoryProvider(bcrypt.MinCost)
	r := NewReconciler(db, repository.NewUserRepo(db), repository.NewActivityRepo(db), p, zerolog.Nop(), time.Second)
	return r, m, p
}

func row(id int64, email, ref string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userCols).AddRow(id, "hank", email, "customer", nil, ref, nil, now, now)
}

func TestReconciler_DeleteRemoteRemovesOrphan(t *testing.T) {
	r, m, p := newReconciler(t)
	ref, err := p.CreateIdentity(context.Background(), "hank@example.com", "secret1", "hank")
	require.NoError(t, err)
	m.ExpectQuery(`FROM users WHERE remote_ref = \?`).WithArgs(ref).WillReturnRows(sqlmock.NewRows(userCols))

	require.NoError(t, r.Handle(context.Background(), queue.ReconcileTask{Kind: queue.TaskDeleteRemote, RemoteRef: ref}))
	assert.Equal(t, 0, p.Len())
	require.NoError(t, m.ExpectationsWereMet())
}

func TestReconciler_DeleteRemoteKeepsLinkedIdentity(t *testing.T) {
	r, m, p := newReconciler(t)
	ref, err := p.CreateIdentity(context.Background(), "hank@example.com", "secret1", "hank")
	require.NoError(t, err)
	m.ExpectQuery(`FROM users WHERE remote_ref = \?`).WillReturnRows(row(3, "hank@example.com", ref))

	require.NoError(t, r.Handle(context.Background(), queue.ReconcileTask{Kind: queue.TaskDeleteRemote, RemoteRef: ref}))
	assert.Equal(t, 1, p.Len())
}

func TestReconciler_ResyncPushesLocalValues(t *testing.T) {
	r, m, p := newReconciler(t)
	ref, err := p.CreateIdentity(context.Background(), "old@example.com", "secret1", "hank")
	require.NoError(t, err)
	m.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(3).WillReturnRows(row(3, "new@example.com", ref))

	require.NoError(t, r.Handle(context.Background(), queue.ReconcileTask{Kind: queue.TaskResyncRemote, UserID: 3, RemoteRef: ref}))
	rec, ok := p.Lookup(ref)
	require.True(t, ok)
	assert.Equal(t, "new@example.com", rec.Email)
}

func TestReconciler_PurgeLocal(t *testing.T) {
	r, m, _ := newReconciler(t)
	m.ExpectBegin()
	m.ExpectQuery(`FROM users WHERE id = \? FOR UPDATE`).WithArgs(3).WillReturnRows(row(3, "hank@example.com", "auth0|h"))
	m.ExpectExec(`INSERT INTO activity_logs`).
		WithArgs(0, "super_admin", model.ActionReconcile, sqlmock.AnyArg(), 3, "user").
		WillReturnResult(sqlmock.NewResult(1, 1))
	m.ExpectExec(`DELETE FROM users WHERE id = \?`).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	m.ExpectCommit()

	require.NoError(t, r.Handle(context.Background(), queue.ReconcileTask{Kind: queue.TaskPurgeLocal, UserID: 3, RemoteRef: "auth0|h"}))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestReconciler_PurgeLocalSkipsRelinkedUser(t *testing.T) {
	r, m, _ := newReconciler(t)
	m.ExpectBegin()
	m.ExpectQuery(`FOR UPDATE`).WillReturnRows(row(3, "hank@example.com", "auth0|other"))
	m.ExpectCommit()

	require.NoError(t, r.Handle(context.Background(), queue.ReconcileTask{Kind: queue.TaskPurgeLocal, UserID: 3, RemoteRef: "auth0|h"}))
	require.NoError(t, m.ExpectationsWereMet())
}

func TestReconciler_UnknownKind(t *testing.T) {
	r, _, _ := newReconciler(t)
	require.Error(t, r.Handle(context.Background(), queue.ReconcileTask{Kind: "rewind"}))
}

func TestPublishingIsPersistentJSON(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	pub, err := publishing(queue.ReconcileTask{Kind: queue.TaskPurgeLocal, UserID: 9}, now)
	require.NoError(t, err)
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, string(queue.TaskPurgeLocal), pub.Type)

	var got queue.ReconcileTask
	require.NoError(t, json.Unmarshal(pub.Body, &got))
	assert.Equal(t, uint64(9), got.UserID)
	assert.Equal(t, "2026-05-01T08:00:00Z", got.CreatedAt)
}
