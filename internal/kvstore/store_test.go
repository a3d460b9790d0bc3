package kvstore

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deeds/internal/ir"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/ledger/stocktest"
	"github.com/roach88/deeds/internal/testutil"
)

func diskConfig(t *testing.T) Config {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "badger"))
	cfg.SyncWrites = false
	return cfg
}

func reopen(t *testing.T, s *Store) *Store {
	t.Helper()
	cfg := s.cfg
	require.NoError(t, s.Close())
	s2, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s2.Close() })
	return s2
}

func TestStockSuite_Disk(t *testing.T) {
	stocktest.Run(t, stocktest.Backend{
		Name: "badger",
		Create: func(t *testing.T) ledger.CreateFunc {
			return Creator(diskConfig(t))
		},
		Reopen: func(t *testing.T, s ledger.Stock) ledger.Stock {
			return reopen(t, s.(*Store))
		},
	})
}

func TestStockSuite_InMemory(t *testing.T) {
	stocktest.Run(t, stocktest.Backend{
		Name: "badger-memory",
		Create: func(t *testing.T) ledger.CreateFunc {
			return Creator(InMemoryConfig())
		},
	})
}

func newFixture(t *testing.T, cfg Config, amounts ...int64) (*stocktest.Fixture, *Store) {
	t.Helper()
	f := stocktest.NewFixture(t, Creator(cfg), amounts...)
	s, ok := f.Ledger.Stock().(*Store)
	require.True(t, ok)
	return f, s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestOpen_EmptyDatabase(t *testing.T) {
	_, err := Open(diskConfig(t))
	assert.ErrorIs(t, err, ErrNoContract)
}

func TestCreate_FailsWhenContractExists(t *testing.T) {
	cfg := diskConfig(t)
	f, s := newFixture(t, cfg, 10)
	require.NoError(t, s.Close())

	_, err := Create(cfg, f.Articles, f.Ledger.State())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already holds a contract")
}

func TestConfig_ReportsLocation(t *testing.T) {
	cfg := diskConfig(t)
	_, s := newFixture(t, cfg, 10)
	assert.Equal(t, ledger.StockConfig{Backend: "badger", Location: cfg.Path}, s.Config())

	_, mem := newFixture(t, InMemoryConfig(), 10)
	assert.Equal(t, ":memory:", mem.Config().Location)
}

func TestAddOperation_AppendsOnce(t *testing.T) {
	f, s := newFixture(t, InMemoryConfig(), 10)
	op := testutil.Transfer(f.Articles.ContractID, 3, nil, testutil.AmountCell(1, f.Tokens.Next()))
	opid := op.MustOpid()

	require.NoError(t, s.AddOperation(opid, op))
	require.NoError(t, s.AddOperation(opid, op))

	assert.Equal(t, uint64(1), s.nextSeq)
	entries, err := s.Operations()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, opid, entries[0].Opid)
}

func TestSeq_SurvivesReopen(t *testing.T) {
	f, s := newFixture(t, diskConfig(t), 10)
	a, out := f.Transfer(t, f.Genesis, 10)

	s = reopen(t, s)
	require.Equal(t, uint64(1), s.nextSeq)

	op := testutil.Transfer(f.Articles.ContractID, 9, nil, testutil.AmountCell(1, f.Tokens.Next()))
	require.NoError(t, s.AddOperation(op.MustOpid(), op))

	entries, err := s.Operations()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a, entries[0].Opid)
	assert.Equal(t, op.MustOpid(), entries[1].Opid)
	assert.Equal(t, ir.NewCellAddr(a, 0), s.State().Addr(out[0]))
}

func TestCommitTransaction_BuffersUntilCommit(t *testing.T) {
	f, s := newFixture(t, diskConfig(t), 10)
	op := testutil.Transfer(f.Articles.ContractID, 3, nil, testutil.AmountCell(1, f.Tokens.Next()))
	opid := op.MustOpid()
	require.NoError(t, s.AddOperation(opid, op))
	addr := ir.NewCellAddr(f.Articles.ContractID.GenesisOpid(), 0)

	require.NoError(t, s.AddSpending(addr, opid))
	s.MarkValid(opid)

	spender, ok, err := s.SpentBy(addr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, opid, spender)

	// Dropped: nothing reached the database.
	s = reopen(t, s)
	_, ok, err = s.SpentBy(addr)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, s.IsValid(opid))

	require.NoError(t, s.AddSpending(addr, opid))
	s.MarkValid(opid)
	require.NoError(t, s.CommitTransaction())
	assert.Empty(t, s.pendingSpent)
	assert.Empty(t, s.pendingValidity)

	s = reopen(t, s)
	spender, ok, err = s.SpentBy(addr)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, opid, spender)
	assert.True(t, s.IsValid(opid))
}

func TestReadBy_SeparatesAddresses(t *testing.T) {
	f, s := newFixture(t, InMemoryConfig(), 10)
	genesis := f.Articles.ContractID.GenesisOpid()
	short := ir.NewCellAddr(genesis, 1)
	long := ir.NewCellAddr(genesis, 12)

	reader := testutil.Transfer(f.Articles.ContractID, 3, nil, testutil.AmountCell(1, f.Tokens.Next())).MustOpid()
	require.NoError(t, s.AddReading(long, reader))

	got, err := s.ReadBy(short)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.ReadBy(long)
	require.NoError(t, err)
	assert.Equal(t, []ir.Opid{reader}, got)
}

func TestBadgerLogger_ForwardsToSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := &badgerLogger{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	logger.Errorf("e %d", 1)
	logger.Warningf("w %d", 2)
	logger.Infof("i %d", 3)
	logger.Debugf("d %d", 4)

	out := buf.String()
	for _, want := range []string{"level=ERROR msg=\"e 1\"", "level=WARN msg=\"w 2\"", "level=INFO msg=\"i 3\"", "level=DEBUG msg=\"d 4\""} {
		assert.Contains(t, out, want)
	}
}

func TestOpen_WithLogger(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.Logger = stocktest.Quiet()
	db, err := openDB(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
