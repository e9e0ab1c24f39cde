package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/marketops/internal/models"
)

//go:embed schema/postgres.sql
var postgresSchema string

// Postgres codes mapped to store errors.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.Db.Exec(ctx, postgresSchema)
	return err
}

func (s *Postgres) Close() error {
	s.Db.Close()
	return nil
}

// GetWallet retrieves a single wallet by player id.
func (s *Postgres) GetWallet(ctx context.Context, playerID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.Db.QueryRow(ctx,
		"SELECT player_id, cash, bank, points FROM wallets WHERE player_id = $1",
		playerID).Scan(&w.PlayerID, &w.Cash, &w.Bank, &w.Points)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// EnsureWallet creates the wallet unless the player already has one.
func (s *Postgres) EnsureWallet(ctx context.Context, w models.Wallet) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO wallets (player_id, cash, bank, points) VALUES ($1, $2, $3, $4) ON CONFLICT (player_id) DO NOTHING",
		w.PlayerID, w.Cash, w.Bank, w.Points)
	return err
}

// SetWallet overwrites the balances of an existing wallet.
func (s *Postgres) SetWallet(ctx context.Context, w models.Wallet) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE wallets SET cash = $1, bank = $2, points = $3 WHERE player_id = $4",
		w.Cash, w.Bank, w.Points, w.PlayerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// GetOwner returns the recorded owner of a market, or nil if it was never transferred.
func (s *Postgres) GetOwner(ctx context.Context, marketID string) (*models.MarketOwner, error) {
	var o models.MarketOwner
	err := s.Db.QueryRow(ctx,
		"SELECT market_id, owner_id, owner_name FROM market_owners WHERE market_id = $1",
		marketID).Scan(&o.MarketID, &o.OwnerID, &o.OwnerName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) Purchase(ctx context.Context, playerID string, req models.PurchaseBody, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error) {
	return execute(ctx, s, key, reqHash, purchaseOp(playerID, req))
}

func (s *Postgres) WithdrawPoints(ctx context.Context, playerID string, amount, minAmount int64, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error) {
	return execute(ctx, s, key, reqHash, withdrawOp(playerID, amount, minAmount))
}

func (s *Postgres) TransferMarket(ctx context.Context, playerID, marketID string, req models.TransferBody, key, reqHash string) (*Receipt, *models.IdempotencyRecord, error) {
	return execute(ctx, s, key, reqHash, transferOp(playerID, marketID, req))
}

func (s *Postgres) inTx(ctx context.Context, fn func(txn) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(pgTxn{tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapPgError(err))
	}
	return nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure {
		return fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	}
	return err
}

type pgTxn struct {
	tx pgx.Tx
}

func (t pgTxn) findKey(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	rec := models.IdempotencyRecord{Key: key}
	var status *int
	err := t.tx.QueryRow(ctx,
		"SELECT request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key).Scan(&rec.RequestHash, &rec.Status, &status, &rec.ResponseBody)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if status != nil {
		rec.ResponseStatus = *status
	}
	return &rec, nil
}

func (t pgTxn) reserveKey(ctx context.Context, key, reqHash string) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, reqHash, models.IdempotencyInProgress)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("key reservation failed: %w", err)
	}
	return nil
}

func (t pgTxn) completeKey(ctx context.Context, key string, status int, body []byte) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE idempotency_keys SET status = $1, response_status = $2, response_body = $3 WHERE key = $4",
		models.IdempotencyCompleted, status, json.RawMessage(body), key)
	return err
}

func (t pgTxn) lockWallet(ctx context.Context, playerID string) (*models.Wallet, error) {
	var w models.Wallet
	err := t.tx.QueryRow(ctx,
		"SELECT player_id, cash, bank, points FROM wallets WHERE player_id = $1 FOR UPDATE",
		playerID).Scan(&w.PlayerID, &w.Cash, &w.Bank, &w.Points)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}
	return &w, nil
}

func (t pgTxn) saveWallet(ctx context.Context, w *models.Wallet) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE wallets SET cash = $1, bank = $2, points = $3 WHERE player_id = $4",
		w.Cash, w.Bank, w.Points, w.PlayerID)
	return err
}

func (t pgTxn) insertPurchase(ctx context.Context, playerID string, req models.PurchaseBody, points int64) error {
	items, err := linesJSON(req.Items)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx,
		"INSERT INTO purchases (player_id, payment_method, total_price, points, items) VALUES ($1, $2, $3, $4, $5)",
		playerID, string(req.PaymentMethod), req.TotalPrice, points, json.RawMessage(items))
	return err
}

func (t pgTxn) upsertOwner(ctx context.Context, o models.MarketOwner) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO market_owners (market_id, owner_id, owner_name) VALUES ($1, $2, $3)
		 ON CONFLICT (market_id) DO UPDATE SET owner_id = EXCLUDED.owner_id, owner_name = EXCLUDED.owner_name, updated_at = now()`,
		o.MarketID, o.OwnerID, o.OwnerName)
	return err
}
