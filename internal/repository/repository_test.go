package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/stakepool-deployer/internal/deployment"
)

// MockDB is a mock implementation of DB.
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	called := m.Called(ctx, sql, args)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).(pgx.Rows), called.Error(1)
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	called := m.Called(ctx, sql, args)
	return called.Get(0).(pgx.Row)
}

// fakeRow scans a fixed record, or returns err.
type fakeRow struct {
	rec *Record
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		*dest[0].(*time.Time) = r.rec.CreatedAt
		return nil
	}
	return fill(dest, r.rec)
}

// fakeRows iterates over records.
type fakeRows struct {
	records []*Record
	pos     int
	err     error
	closed  bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return fill(dest, r.records[r.pos-1])
}

func fill(dest []any, rec *Record) error {
	if len(dest) != 15 {
		return errors.New("unexpected column count")
	}
	*dest[0].(*uuid.UUID) = rec.ID
	*dest[1].(*string) = rec.RunID
	*dest[2].(*string) = rec.Artifact
	*dest[3].(*int64) = rec.ChainID
	*dest[4].(*Status) = rec.Status
	*dest[5].(**string) = rec.FailedStage
	*dest[6].(**string) = rec.Address
	*dest[7].(**string) = rec.TxHash
	*dest[8].(**int64) = rec.BlockNumber
	*dest[9].(**int64) = rec.GasUsed
	*dest[10].(*json.RawMessage) = rec.Config
	*dest[11].(**string) = rec.ErrorMessage
	*dest[12].(*time.Time) = rec.StartedAt
	*dest[13].(*time.Time) = rec.FinishedAt
	*dest[14].(*time.Time) = rec.CreatedAt
	return nil
}

var (
	testVault   = common.HexToAddress("0xf371efda1a6ebe7947b2e9c5417fd16c30612555")
	testToken   = common.HexToAddress("0xA0290118D3014F6d9b6f2E9430EAeDe507C949C1")
	testAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testTxHash  = common.HexToHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890")
	testStart   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func testConfiguration() deployment.Configuration {
	return deployment.Configuration{
		RewardRate:       500,
		WithdrawalPeriod: 30,
		VaultAddress:     testVault,
		TokenAddress:     testToken,
	}
}

func TestNewRecord_Success(t *testing.T) {
	result := &deployment.Result{
		RunID:       "01HQ3KX8Y2B4C6D8E0F2G4H6J8",
		Artifact:    "StakingPool",
		Address:     testAddress,
		TxHash:      testTxHash,
		BlockNumber: 42,
		GasUsed:     123_456,
		Config:      testConfiguration(),
		StartedAt:   testStart,
		ConfirmedAt: testStart.Add(12 * time.Second),
	}

	rec, err := NewRecord(RunInfo{ChainID: 31337}, result, nil)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, StatusConfirmed, rec.Status)
	assert.Equal(t, result.RunID, rec.RunID)
	assert.Equal(t, "StakingPool", rec.Artifact)
	assert.Equal(t, int64(31337), rec.ChainID)
	assert.Equal(t, testAddress.Hex(), *rec.Address)
	assert.Equal(t, testTxHash.Hex(), *rec.TxHash)
	assert.Equal(t, int64(42), *rec.BlockNumber)
	assert.Equal(t, int64(123_456), *rec.GasUsed)
	assert.Nil(t, rec.ErrorMessage)
	assert.Nil(t, rec.FailedStage)
	assert.Equal(t, result.ConfirmedAt, rec.FinishedAt)

	var cfg deployment.Configuration
	require.NoError(t, json.Unmarshal(rec.Config, &cfg))
	assert.Equal(t, testConfiguration(), cfg)
}

func TestNewRecord_Failure(t *testing.T) {
	runErr := &deployment.StageError{
		Stage:    deployment.StageConfirmed,
		Artifact: "StakingPool",
		RunID:    "01HQ3KX8Y2B4C6D8E0F2G4H6J8",
		TxHash:   testTxHash,
		Err:      errors.New("contract deployment reverted"),
	}

	rec, err := NewRecord(RunInfo{
		Artifact:   "StakingPool",
		Config:     testConfiguration(),
		StartedAt:  testStart,
		FinishedAt: testStart.Add(time.Minute),
	}, nil, runErr)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, runErr.RunID, rec.RunID)
	assert.Equal(t, "await_confirmation", *rec.FailedStage)
	assert.Equal(t, testTxHash.Hex(), *rec.TxHash)
	assert.Contains(t, *rec.ErrorMessage, "reverted")
	assert.Nil(t, rec.Address)
}

func TestNewRecord_FailedStepPerStage(t *testing.T) {
	tests := []struct {
		stage deployment.Stage
		want  string
	}{
		{deployment.StageUnstarted, "validate_configuration"},
		{deployment.StageArtifactResolved, "resolve_artifact"},
		{deployment.StageSubmitted, "submit"},
		{deployment.StageConfirmed, "await_confirmation"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			runErr := &deployment.StageError{Stage: tt.stage, Artifact: "StakingPool", Err: errors.New("boom")}
			rec, err := NewRecord(RunInfo{Artifact: "StakingPool"}, nil, runErr)
			require.NoError(t, err)
			require.NotNil(t, rec.FailedStage)
			assert.Equal(t, tt.want, *rec.FailedStage)
		})
	}
}

func TestNewRecord_UntypedFailureGetsRunID(t *testing.T) {
	rec, err := NewRecord(RunInfo{Artifact: "StakingPool"}, nil, errors.New("dial tcp: refused"))
	require.NoError(t, err)
	assert.Len(t, rec.RunID, 26)
	assert.Nil(t, rec.FailedStage)
}

func TestNewRecord_NeedsResultOrError(t *testing.T) {
	_, err := NewRecord(RunInfo{}, nil, nil)
	assert.Error(t, err)
}

func TestPostgresRepository_RecordDeployment(t *testing.T) {
	ctx := context.Background()
	createdAt := testStart.Add(time.Hour)

	t.Run("assigns id and created_at", func(t *testing.T) {
		db := new(MockDB)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
			Return(fakeRow{rec: &Record{CreatedAt: createdAt}})

		rec := &Record{RunID: "run", Artifact: "StakingPool", Status: StatusConfirmed}
		require.NoError(t, NewPostgresRepository(db).RecordDeployment(ctx, rec))

		assert.NotEqual(t, uuid.Nil, rec.ID)
		assert.Equal(t, createdAt, rec.CreatedAt)

		args := db.Calls[0].Arguments.Get(2).([]any)
		assert.Len(t, args, 14)
		assert.Equal(t, "run", args[1])
	})

	t.Run("wraps errors", func(t *testing.T) {
		db := new(MockDB)
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).
			Return(fakeRow{err: errors.New("duplicate key")})

		err := NewPostgresRepository(db).RecordDeployment(ctx, &Record{})
		assert.ErrorContains(t, err, "RecordDeployment: duplicate key")
	})
}

func TestPostgresRepository_GetDeploymentByRunID(t *testing.T) {
	ctx := context.Background()
	address := testAddress.Hex()
	stored := &Record{ID: uuid.New(), RunID: "run-1", Status: StatusConfirmed, Address: &address}

	t.Run("found", func(t *testing.T) {
		db := new(MockDB)
		db.On("QueryRow", ctx, mock.Anything, []any{"run-1"}).Return(fakeRow{rec: stored})

		rec, err := NewPostgresRepository(db).GetDeploymentByRunID(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, stored.ID, rec.ID)
		assert.Equal(t, address, *rec.Address)
	})

	t.Run("not found", func(t *testing.T) {
		db := new(MockDB)
		db.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(fakeRow{err: pgx.ErrNoRows})

		_, err := NewPostgresRepository(db).GetDeploymentByRunID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresRepository_ListDeployments(t *testing.T) {
	ctx := context.Background()

	t.Run("returns rows in order", func(t *testing.T) {
		rows := &fakeRows{records: []*Record{
			{RunID: "b", StartedAt: testStart.Add(time.Hour)},
			{RunID: "a", StartedAt: testStart},
		}}
		db := new(MockDB)
		db.On("Query", ctx, mock.Anything, []any{5}).Return(rows, nil)

		records, err := NewPostgresRepository(db).ListDeployments(ctx, 5)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "b", records[0].RunID)
		assert.Equal(t, "a", records[1].RunID)
		assert.True(t, rows.closed)
	})

	t.Run("default limit", func(t *testing.T) {
		db := new(MockDB)
		db.On("Query", ctx, mock.Anything, []any{DefaultListLimit}).Return(&fakeRows{}, nil)

		records, err := NewPostgresRepository(db).ListDeployments(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("row iteration error", func(t *testing.T) {
		db := new(MockDB)
		db.On("Query", ctx, mock.Anything, mock.Anything).Return(&fakeRows{err: errors.New("conn reset")}, nil)

		_, err := NewPostgresRepository(db).ListDeployments(ctx, 1)
		assert.ErrorContains(t, err, "conn reset")
	})

	t.Run("query error", func(t *testing.T) {
		db := new(MockDB)
		db.On("Query", ctx, mock.Anything, mock.Anything).Return(nil, errors.New("relation does not exist"))

		_, err := NewPostgresRepository(db).ListDeployments(ctx, 1)
		assert.ErrorContains(t, err, "ListDeployments")
	})
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var repo Repository = Nop{}

	assert.NoError(t, repo.RecordDeployment(ctx, &Record{}))
	_, err := repo.GetDeploymentByRunID(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	records, err := repo.ListDeployments(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, records)
}
