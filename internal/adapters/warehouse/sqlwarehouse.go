// internal/adapters/warehouse/sqlwarehouse.go
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

// SQLWarehouse implements the warehouse port on SQL Server.
//
// Target tables use a canonical row shape: one row per primary key with
// the record payload as JSON (record_key, position, extracted_at,
// payload). Loads go through a per-source staging table, are deduped
// with ROW_NUMBER() keeping the most recently extracted version per key
// (tie-break: highest watermark position), and MERGE into the target.
// The load-ledger row is written in the same transaction as the merge,
// so the two can never diverge. Downstream transforms read payload
// columns with OPENJSON.
type SQLWarehouse struct {
	db     *sql.DB
	logger logx.Logger
}

var _ ports.Warehouse = (*SQLWarehouse)(nil)

// NewSQLWarehouse opens a warehouse connection.
func NewSQLWarehouse(dsn string, logger logx.Logger) (*SQLWarehouse, error) {
	if logger == nil {
		logger = logx.New()
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrWarehouseUnavailable, "opening warehouse: %v", err)
	}
	return &SQLWarehouse{
		db:     db,
		logger: logger.With("component", "sql-warehouse"),
	}, nil
}

// EnsureSchema creates the ledger table if it does not exist.
func (w *SQLWarehouse) EnsureSchema(ctx context.Context) error {
	const ddl = `
IF OBJECT_ID('strata_load_ledger', 'U') IS NULL
CREATE TABLE strata_load_ledger (
    ledger_key  NVARCHAR(400) NOT NULL PRIMARY KEY,
    source_id   NVARCHAR(200) NOT NULL,
    low_pos     BIGINT        NOT NULL,
    high_pos    BIGINT        NOT NULL,
    row_count   INT           NOT NULL,
    checksum    NVARCHAR(64)  NOT NULL,
    applied_at  DATETIME2     NOT NULL DEFAULT SYSUTCDATETIME()
);`
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return w.classify(err, "creating ledger table")
	}
	return nil
}

// EnsureTargetTable creates a canonical target table if absent.
func (w *SQLWarehouse) EnsureTargetTable(ctx context.Context, table string) error {
	if err := validIdentifier(table); err != nil {
		return err
	}
	ddl := fmt.Sprintf(`
IF OBJECT_ID('%[1]s', 'U') IS NULL
CREATE TABLE %[1]s (
    record_key   NVARCHAR(400) NOT NULL PRIMARY KEY,
    position     BIGINT        NOT NULL,
    extracted_at DATETIME2     NOT NULL,
    payload      NVARCHAR(MAX) NOT NULL
);`, table)
	if _, err := w.db.ExecContext(ctx, ddl); err != nil {
		return w.classify(err, "creating target table "+table)
	}
	return nil
}

// AlreadyApplied reports whether the ledger holds ledgerKey.
func (w *SQLWarehouse) AlreadyApplied(ctx context.Context, ledgerKey string) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx,
		"SELECT 1 FROM strata_load_ledger WHERE ledger_key = @p1", ledgerKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, w.classify(err, "checking ledger")
	}
	return true, nil
}

// Apply merges records into table and writes the ledger entry, all in
// one transaction.
func (w *SQLWarehouse) Apply(ctx context.Context, staged domain.StagedObject, records []domain.Record, keyField, table string) (int, error) {
	if err := validIdentifier(table); err != nil {
		return 0, err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, w.classify(err, "beginning load transaction")
	}
	defer tx.Rollback()

	stagingTable := "strata_stage_" + table
	if err := w.prepareStaging(ctx, tx, stagingTable, staged.LedgerKey()); err != nil {
		return 0, err
	}

	for i := range records {
		r := &records[i]
		key := r.Key
		if key == "" {
			if v, ok := r.Fields[keyField]; ok {
				key = fmt.Sprintf("%v", v)
			}
		}
		if key == "" {
			return 0, errors.Wrapf(errors.ErrLoadRejected, "record %d in %s has no %s key", i, staged.LedgerKey(), keyField)
		}
		payload, err := json.Marshal(r.Fields)
		if err != nil {
			return 0, errors.Wrapf(errors.ErrLoadRejected, "record %s not serializable: %v", key, err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s (ledger_key, record_key, position, extracted_at, payload) VALUES (@p1, @p2, @p3, @p4, @p5)",
			stagingTable),
			staged.LedgerKey(), key, r.Position, r.ExtractedAt.UTC(), string(payload))
		if err != nil {
			return 0, w.classify(err, "staging record "+key)
		}
	}

	// Dedup + merge: keep one version per key, latest extraction wins,
	// higher watermark position breaks ties.
	merge := fmt.Sprintf(`
MERGE INTO %[1]s AS t
USING (
    SELECT record_key, position, extracted_at, payload
    FROM (
        SELECT record_key, position, extracted_at, payload,
               ROW_NUMBER() OVER (
                   PARTITION BY record_key
                   ORDER BY extracted_at DESC, position DESC
               ) AS rn
        FROM %[2]s
        WHERE ledger_key = @p1
    ) ranked
    WHERE rn = 1
) AS s
ON t.record_key = s.record_key
WHEN MATCHED AND (s.extracted_at > t.extracted_at
                  OR (s.extracted_at = t.extracted_at AND s.position >= t.position)) THEN
    UPDATE SET position = s.position, extracted_at = s.extracted_at, payload = s.payload
WHEN NOT MATCHED THEN
    INSERT (record_key, position, extracted_at, payload)
    VALUES (s.record_key, s.position, s.extracted_at, s.payload);`,
		table, stagingTable)

	res, err := tx.ExecContext(ctx, merge, staged.LedgerKey())
	if err != nil {
		return 0, w.classify(err, "merging into "+table)
	}
	merged, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO strata_load_ledger (ledger_key, source_id, low_pos, high_pos, row_count, checksum)
		 VALUES (@p1, @p2, @p3, @p4, @p5, @p6)`,
		staged.LedgerKey(), staged.SourceID, staged.Range.Low.Pos, staged.Range.High.Pos,
		staged.RowCount, staged.Checksum)
	if err != nil {
		return 0, w.classify(err, "writing ledger entry")
	}

	if err := tx.Commit(); err != nil {
		return 0, w.classify(err, "committing load")
	}
	return int(merged), nil
}

// LedgerHigh returns the highest applied watermark position for a source.
func (w *SQLWarehouse) LedgerHigh(ctx context.Context, sourceID string) (domain.Watermark, bool, error) {
	var high sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		"SELECT MAX(high_pos) FROM strata_load_ledger WHERE source_id = @p1", sourceID).Scan(&high)
	if err != nil {
		return domain.ZeroWatermark, false, w.classify(err, "reading ledger high")
	}
	if !high.Valid {
		return domain.ZeroWatermark, false, nil
	}
	return domain.Watermark{Pos: high.Int64}, true, nil
}

// Exec runs a transform statement.
func (w *SQLWarehouse) Exec(ctx context.Context, statement string) error {
	if _, err := w.db.ExecContext(ctx, statement); err != nil {
		return w.classify(err, "executing transform")
	}
	return nil
}

// Close releases the connection pool.
func (w *SQLWarehouse) Close() error { return w.db.Close() }

func (w *SQLWarehouse) prepareStaging(ctx context.Context, tx *sql.Tx, stagingTable, ledgerKey string) error {
	ddl := fmt.Sprintf(`
IF OBJECT_ID('%[1]s', 'U') IS NULL
CREATE TABLE %[1]s (
    ledger_key   NVARCHAR(400) NOT NULL,
    record_key   NVARCHAR(400) NOT NULL,
    position     BIGINT        NOT NULL,
    extracted_at DATETIME2     NOT NULL,
    payload      NVARCHAR(MAX) NOT NULL
);`, stagingTable)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return w.classify(err, "creating staging table")
	}
	// Re-staging the same range replaces its previous rows.
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE ledger_key = @p1", stagingTable), ledgerKey); err != nil {
		return w.classify(err, "clearing staging rows")
	}
	return nil
}

// classify maps driver errors onto the failure taxonomy: connectivity
// problems are retryable WarehouseUnavailable, SQL-level rejections are
// non-retryable LoadRejected.
func (w *SQLWarehouse) classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// A timed-out statement is the warehouse being unreachable for
		// retry purposes, so the task record carries the retryable kind.
		return errors.Wrapf(errors.ErrWarehouseUnavailable, "%s: %v", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Wrapf(errors.ErrWarehouseUnavailable, "%s: %v", op, err)
	}
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		return errors.Wrapf(errors.ErrLoadRejected, "%s: %v", op, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection") || strings.Contains(msg, "unreachable") ||
		strings.Contains(msg, "refused") || err == sql.ErrConnDone {
		return errors.Wrapf(errors.ErrWarehouseUnavailable, "%s: %v", op, err)
	}
	return errors.Wrapf(errors.ErrLoadRejected, "%s: %v", op, err)
}

func validIdentifier(name string) error {
	if name == "" {
		return errors.Wrapf(errors.ErrLoadRejected, "empty table name")
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return errors.Wrapf(errors.ErrLoadRejected, "invalid table identifier %q", name)
		}
	}
	return nil
}
