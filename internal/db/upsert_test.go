package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var factsCfg = UpsertConfig{
	Table:        "fs.facts",
	Columns:      []string{"symbol", "item", "period_header", "value"},
	ConflictKeys: []string{"symbol", "item", "period_header"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, factsCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no table", UpsertConfig{Columns: []string{"a"}, ConflictKeys: []string{"a"}}, "no table specified"},
		{"no columns", UpsertConfig{Table: "fs.t", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "fs.t", Columns: []string{"id"}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.Background(), nil, tt.cfg, [][]any{{1}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_Chunked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := factsCfg
	cfg.ChunkSize = 2
	rows := [][]any{
		{"ACME", "Revenue", "Q1_2023", "10"},
		{"ACME", "Revenue", "Q2_2023", "11"},
		{"ACME", "Revenue", "Q3_2023", "12"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_fs_facts"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_fs_facts"}, cfg.Columns).WillReturnResult(1)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 3))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, cfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_fs_facts"}, factsCfg.Columns).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, factsCfg, [][]any{{"ACME", "Revenue", "Q1_2023", "10"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY rows 0-1 for fs.facts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	got := mergeSQL(factsCfg)
	assert.Equal(t,
		`INSERT INTO "fs"."facts" ("symbol", "item", "period_header", "value") `+
			`SELECT "symbol", "item", "period_header", "value" FROM "_stage_fs_facts" `+
			`ON CONFLICT ("symbol", "item", "period_header") DO UPDATE SET "value" = EXCLUDED."value"`,
		got)

	keysOnly := UpsertConfig{Table: "runs", Columns: []string{"id"}, ConflictKeys: []string{"id"}}
	assert.Contains(t, mergeSQL(keysOnly), "ON CONFLICT (\"id\") DO NOTHING")

	explicit := factsCfg
	explicit.UpdateCols = []string{"item"}
	assert.Contains(t, mergeSQL(explicit), `DO UPDATE SET "item" = EXCLUDED."item"`)
}

func TestCreateStagingSQL(t *testing.T) {
	assert.Equal(t,
		`CREATE TEMP TABLE "_stage_fs_facts" (LIKE "fs"."facts" INCLUDING DEFAULTS) ON COMMIT DROP`,
		createStagingSQL(factsCfg))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"fs.fx_rates", `"fs"."fx_rates"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestPool_SatisfiedByMock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var _ Pool = mock
}
