package allocator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestAllocateNotFoundWhenServerMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT server_id").
		WithArgs("srv-1", "1.2.3.4").
		WillReturnError(sql.ErrNoRows)

	res, err := Allocate(context.Background(), db, "srv-1", "1.2.3.4", "proc", "arena", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateReusesIdleProcess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	serverCols := []string{"server_id", "ip_address", "name", "status", "max_processes",
		"current_processes", "region", "tags", "specifications", "last_heartbeat",
		"created_at", "updated_at", "del_flag"}
	now := time.Unix(0, 0)

	mock.ExpectQuery("SELECT server_id").
		WithArgs("srv-1", "1.2.3.4").
		WillReturnRows(sqlmock.NewRows(serverCols).AddRow(
			"srv-1", "1.2.3.4", "host-1", "online", 10, 2, "us", "", "", now, now, now, false))

	procCols := []string{"process_id", "server_id", "process_name", "game_type", "game_version",
		"is_idle", "is_login", "health_status", "started_at", "last_heartbeat",
		"last_health_check", "created_at", "updated_at", "del_flag"}
	mock.ExpectQuery("SELECT process_id").
		WithArgs("srv-1", "arena").
		WillReturnRows(sqlmock.NewRows(procCols).AddRow(
			"proc-1", "srv-1", "proc", "arena", "1.0.0", true, false, "healthy", now, now, now, now, now, false))

	mock.ExpectExec("UPDATE game_processes").
		WithArgs("proc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := Allocate(context.Background(), db, "srv-1", "1.2.3.4", "proc", "arena", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, Reused, res.Outcome)
	require.Equal(t, "proc-1", res.ProcessID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateAtCapacityWhenNoIdleAndFull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	serverCols := []string{"server_id", "ip_address", "name", "status", "max_processes",
		"current_processes", "region", "tags", "specifications", "last_heartbeat",
		"created_at", "updated_at", "del_flag"}
	now := time.Unix(0, 0)

	mock.ExpectQuery("SELECT server_id").
		WithArgs("srv-1", "1.2.3.4").
		WillReturnRows(sqlmock.NewRows(serverCols).AddRow(
			"srv-1", "1.2.3.4", "host-1", "online", 2, 2, "us", "", "", now, now, now, false))

	procCols := []string{"process_id", "server_id", "process_name", "game_type", "game_version",
		"is_idle", "is_login", "health_status", "started_at", "last_heartbeat",
		"last_health_check", "created_at", "updated_at", "del_flag"}
	mock.ExpectQuery("SELECT process_id").
		WithArgs("srv-1", "arena").
		WillReturnRows(sqlmock.NewRows(procCols))

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("srv-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	res, err := Allocate(context.Background(), db, "srv-1", "1.2.3.4", "proc", "arena", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, AtCapacity, res.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestAllocateProvisionsFreshProcessUnderCapacity is the S4 scenario of
// spec.md §8: no idle row matches, the server is under max_processes, so a
// fresh process row is inserted and current_processes is incremented
// inside the same transaction.
func TestAllocateProvisionsFreshProcessUnderCapacity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	serverCols := []string{"server_id", "ip_address", "name", "status", "max_processes",
		"current_processes", "region", "tags", "specifications", "last_heartbeat",
		"created_at", "updated_at", "del_flag"}
	now := time.Unix(0, 0)

	mock.ExpectQuery("SELECT server_id").
		WithArgs("srv-1", "1.2.3.4").
		WillReturnRows(sqlmock.NewRows(serverCols).AddRow(
			"srv-1", "1.2.3.4", "host-1", "online", 2, 1, "us", "", "", now, now, now, false))

	procCols := []string{"process_id", "server_id", "process_name", "game_type", "game_version",
		"is_idle", "is_login", "health_status", "started_at", "last_heartbeat",
		"last_health_check", "created_at", "updated_at", "del_flag"}
	mock.ExpectQuery("SELECT process_id").
		WithArgs("srv-1", "arena").
		WillReturnRows(sqlmock.NewRows(procCols))

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("srv-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	mock.ExpectExec("INSERT INTO game_processes").
		WithArgs(sqlmock.AnyArg(), "srv-1", "proc", "arena", "1.0.0").
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec("UPDATE game_servers").
		WithArgs("srv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := Allocate(context.Background(), db, "srv-1", "1.2.3.4", "proc", "arena", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, Provisioned, res.Outcome)
	require.NotEmpty(t, res.ProcessID)
	require.Equal(t, "proc", res.ProcessName)
	require.Equal(t, "arena", res.GameType)
	require.NoError(t, mock.ExpectationsWereMet())
}
