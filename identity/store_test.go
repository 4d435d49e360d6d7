package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/identigraph/assertkit/assert"
	"github.com/identigraph/assertkit/config"
)

const (
	testPrincipalQuery  = "SELECT usr.id FROM igt_users usr WHERE usr.username = $1"
	testPermissionQuery = "SELECT url.rol_id FROM igt_users usr, igt_userroles url WHERE url.usr_id = usr.id AND UPPER(usr.username) = UPPER($1)"
)

func mockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	cfg, err := config.NewAsserter("unit", t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return NewStore(mock, cfg), mock
}

func TestAuthenticateSingleMatch(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPrincipalQuery).
		WithArgs("jane.doe").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	if err := store.Authenticate(context.Background(), "jane.doe"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAuthenticateUnknownPrincipal(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPrincipalQuery).
		WithArgs("nobody").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	err := store.Authenticate(context.Background(), "nobody")
	if assert.ReasonOf(err) != assert.DenyUnknownPrincipal {
		t.Fatalf("expected unknown-principal denial, got %v", err)
	}
}

func TestAuthenticateAmbiguousPrincipal(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPrincipalQuery).
		WithArgs("twin").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)).AddRow(int64(8)))

	err := store.Authenticate(context.Background(), "twin")
	if assert.ReasonOf(err) != assert.DenyAmbiguousPrincipal {
		t.Fatalf("expected ambiguous-principal denial, got %v", err)
	}
}

func TestAuthenticateQueryFault(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPrincipalQuery).
		WithArgs("jane.doe").
		WillReturnError(errors.New("connection reset"))

	err := store.Authenticate(context.Background(), "jane.doe")
	var fault *assert.FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("expected a fault, got %v", err)
	}
}

func TestPermissions(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPermissionQuery).
		WithArgs("jane.doe").
		WillReturnRows(pgxmock.NewRows([]string{"rol_id"}).AddRow("viewer").AddRow("editor"))

	permissions, err := store.Permissions(context.Background(), "jane.doe")
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if len(permissions) != 2 || permissions[0] != "viewer" || permissions[1] != "editor" {
		t.Fatalf("unexpected permissions %v", permissions)
	}
}

func TestPermissionsEmpty(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPermissionQuery).
		WithArgs("jane.doe").
		WillReturnRows(pgxmock.NewRows([]string{"rol_id"}))

	permissions, err := store.Permissions(context.Background(), "jane.doe")
	if err != nil {
		t.Fatalf("permissions: %v", err)
	}
	if len(permissions) != 0 {
		t.Fatalf("expected no permissions, got %v", permissions)
	}
}

func TestPermissionsQueryFault(t *testing.T) {
	store, mock := mockStore(t)
	mock.ExpectQuery(testPermissionQuery).
		WithArgs("jane.doe").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Permissions(context.Background(), "jane.doe")
	var fault *assert.FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("expected a fault, got %v", err)
	}
}
