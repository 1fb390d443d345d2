package state

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_DatabaseErrors(t *testing.T) {
	errDB := errors.New("disk I/O error")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		run       func(s *SQLiteStore) error
		errSubstr string
	}{
		{
			name: "record build",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO builds").WillReturnError(errDB)
			},
			run: func(s *SQLiteStore) error {
				return s.RecordBuild(context.Background(), &Build{Template: "a.pegt", Status: BuildSucceeded})
			},
			errSubstr: "failed to record build",
		},
		{
			name: "list builds",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM builds WHERE template = ?").WillReturnError(errDB)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ListBuilds(context.Background(), "a.pegt", 5)
				return err
			},
			errSubstr: "failed to list builds",
		},
		{
			name: "scan build",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM builds").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b1"))
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ListBuilds(context.Background(), "", 0)
				return err
			},
			errSubstr: "failed to scan build",
		},
		{
			name: "prune builds",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM builds").WillReturnError(errDB)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.PruneBuilds(context.Background(), 10)
				return err
			},
			errSubstr: "failed to prune builds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setupMock(mock)
			err = tt.run(&SQLiteStore{db: db})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
