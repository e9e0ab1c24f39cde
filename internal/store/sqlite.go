package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/punchamoorthee/marketops/internal/models"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLite is the single-file store used when no Postgres is configured.
type SQLite struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a SQLite database at the given path and migrates it.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" a single database.
	conn.SetMaxOpenConns(1)

	db := &SQLite{conn: conn}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) GetWallet(ctx context.Context, playerID string) (*models.Wallet, error) {
	var w models.Wallet
	err := db.conn.GetContext(ctx, &w, "SELECT player_id, cash, bank, points FROM wallets WHERE player_id = ?", playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (db *SQLite) EnsureWallet(ctx context.Context, w models.Wallet) error {
	_, err := db.conn.NamedExecContext(ctx,
		"INSERT OR IGNORE INTO wallets (player_id, cash, bank, points) VALUES (:player_id, :cash, :bank, :points)", w)
	return err
}

func (db *SQLite) SetWallet(ctx context.Context, w models.Wallet) error {
	res, err := db.conn.NamedExecContext(ctx,
		"UPDATE wallets SET cash = :cash, bank = :bank, points = :points WHERE player_id = :player_id", w)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (db *SQLite) GetOwner(ctx context.Context, marketID string) (*models.MarketOwner, error) {
	var o models.MarketOwner
	err := db.conn.GetContext(ctx, &o, "SELECT market_id, owner_id, owner_name FROM market_owners WHERE market_id = ?", marketID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (db *SQLite) Purchase(ctx context.Context, playerID string, req models.PurchaseBody, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error) {
	return execute(ctx, db, key, reqHash, purchaseOp(playerID, req))
}

func (db *SQLite) WithdrawPoints(ctx context.Context, playerID string, amount, minAmount int64, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error) {
	return execute(ctx, db, key, reqHash, withdrawOp(playerID, amount, minAmount))
}

func (db *SQLite) TransferMarket(ctx context.Context, playerID, marketID string, req models.TransferBody, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error) {
	return execute(ctx, db, key, reqHash, transferOp(playerID, marketID, req))
}

func (db *SQLite) inTx(ctx context.Context, fn func(txn) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqliteTxn{tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type sqliteTxn struct {
	tx *sqlx.Tx
}

type keyRow struct {
	RequestHash    string         `db:"request_hash"`
	Status         string         `db:"status"`
	ResponseStatus sql.NullInt64  `db:"response_status"`
	ResponseBody   sql.NullString `db:"response_body"`
}

func (t sqliteTxn) findKey(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var row keyRow
	err := t.tx.GetContext(ctx, &row,
		"SELECT request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := &models.IdempotencyRecord{
		Key:            key,
		RequestHash:    row.RequestHash,
		Status:         row.Status,
		ResponseStatus: int(row.ResponseStatus.Int64),
	}
	if row.ResponseBody.Valid {
		rec.ResponseBody = []byte(row.ResponseBody.String)
	}
	return rec, nil
}

func (t sqliteTxn) reserveKey(ctx context.Context, key, reqHash string) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES (?, ?, ?)",
		key, reqHash, models.IdempotencyInProgress)
	if err != nil {
		var se *sqlite.Error
		// Primary and extended constraint codes share the low byte.
		if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("key reservation failed: %w", err)
	}
	return nil
}

func (t sqliteTxn) completeKey(ctx context.Context, key string, status int, body []byte) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE idempotency_keys SET status = ?, response_status = ?, response_body = ? WHERE key = ?",
		models.IdempotencyCompleted, status, string(body), key)
	return err
}

func (t sqliteTxn) lockWallet(ctx context.Context, playerID string) (*models.Wallet, error) {
	var w models.Wallet
	err := t.tx.GetContext(ctx, &w, "SELECT player_id, cash, bank, points FROM wallets WHERE player_id = ?", playerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t sqliteTxn) saveWallet(ctx context.Context, w *models.Wallet) error {
	_, err := t.tx.NamedExecContext(ctx,
		"UPDATE wallets SET cash = :cash, bank = :bank, points = :points WHERE player_id = :player_id", w)
	return err
}

func (t sqliteTxn) insertPurchase(ctx context.Context, playerID string, req models.PurchaseBody, points int64) error {
	items, err := linesJSON(req.Items)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO purchases (player_id, payment_method, total_price, points, items) VALUES (?, ?, ?, ?, ?)",
		playerID, string(req.PaymentMethod), req.TotalPrice, points, string(items))
	return err
}

func (t sqliteTxn) upsertOwner(ctx context.Context, o models.MarketOwner) error {
	_, err := t.tx.NamedExecContext(ctx,
		`INSERT INTO market_owners (market_id, owner_id, owner_name) VALUES (:market_id, :owner_id, :owner_name)
		 ON CONFLICT (market_id) DO UPDATE SET owner_id = excluded.owner_id, owner_name = excluded.owner_name,
		 updated_at = CURRENT_TIMESTAMP`, o)
	return err
}
