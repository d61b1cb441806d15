package swapstore

import (
	"context"
	"database/sql"
	"math/big"

	commonerrors "github.com/hashlock-labs/htlc-relay/common/errors"
	"github.com/hashlock-labs/htlc-relay/common/types"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// createSwapsTable is applied at startup so a fresh database is usable
// without external migrations.
const createSwapsTable = `
  CREATE TABLE IF NOT EXISTS swaps (
      hashlock               BYTEA PRIMARY KEY,
      source_swap_id         TEXT NOT NULL DEFAULT '',
      target_swap_id         TEXT NOT NULL DEFAULT '',
      state                  TEXT NOT NULL,
      origin_chain           TEXT NOT NULL DEFAULT '',
      source_amount          TEXT NOT NULL DEFAULT '',
      target_amount          TEXT NOT NULL DEFAULT '',
      source_timelock        BIGINT NOT NULL DEFAULT 0,
      target_timelock        BIGINT NOT NULL DEFAULT 0,
      participant            TEXT NOT NULL DEFAULT '',
      counterparty_recipient TEXT NOT NULL DEFAULT '',
      secret                 BYTEA,
      secret_chain           TEXT NOT NULL DEFAULT '',
      source_claimed         BOOLEAN NOT NULL DEFAULT FALSE,
      target_claimed         BOOLEAN NOT NULL DEFAULT FALSE,
      source_refunded        BOOLEAN NOT NULL DEFAULT FALSE,
      target_refunded        BOOLEAN NOT NULL DEFAULT FALSE,
      source_lock_submitted  BOOLEAN NOT NULL DEFAULT FALSE,
      target_lock_submitted  BOOLEAN NOT NULL DEFAULT FALSE,
      claim_submitted        BOOLEAN NOT NULL DEFAULT FALSE,
      refund_submitted       BOOLEAN NOT NULL DEFAULT FALSE,
      fail_reason            TEXT NOT NULL DEFAULT '',
      created_at             TIMESTAMPTZ NOT NULL,
      updated_at             TIMESTAMPTZ NOT NULL
  )`

// PostgresStore is a DurableStore backed by Postgres. Amounts are stored as
// decimal strings to avoid integer width limits.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to the database and ensures the swaps table
// exists.
//
// Parameters:
// - ctx: the context for the connection check and table creation.
// - connStr: the lib/pq connection string.
//
// Returns:
// - *PostgresStore: the ready store.
// - error: ErrDatabaseConnect if the database is unreachable.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, commonerrors.ErrDatabaseConnect
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, commonerrors.ErrDatabaseConnect
	}

	if _, err := db.ExecContext(ctx, createSwapsTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create swaps table")
	}

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SaveSwap upserts one record keyed by hashlock.
func (s *PostgresStore) SaveSwap(ctx context.Context, record *types.SwapRecord) error {
	var secret []byte
	if record.HasSecret {
		secret = record.Secret[:]
	}

	query := `
      INSERT INTO swaps (
          hashlock, source_swap_id, target_swap_id, state, origin_chain,
          source_amount, target_amount, source_timelock, target_timelock,
          participant, counterparty_recipient, secret, secret_chain,
          source_claimed, target_claimed, source_refunded, target_refunded,
          source_lock_submitted, target_lock_submitted, claim_submitted,
          refund_submitted, fail_reason, created_at, updated_at
      ) VALUES (
          $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
          $16, $17, $18, $19, $20, $21, $22, $23, $24
      )
      ON CONFLICT (hashlock) DO UPDATE SET
          source_swap_id = EXCLUDED.source_swap_id,
          target_swap_id = EXCLUDED.target_swap_id,
          state = EXCLUDED.state,
          origin_chain = EXCLUDED.origin_chain,
          source_amount = EXCLUDED.source_amount,
          target_amount = EXCLUDED.target_amount,
          source_timelock = EXCLUDED.source_timelock,
          target_timelock = EXCLUDED.target_timelock,
          participant = EXCLUDED.participant,
          counterparty_recipient = EXCLUDED.counterparty_recipient,
          secret = EXCLUDED.secret,
          secret_chain = EXCLUDED.secret_chain,
          source_claimed = EXCLUDED.source_claimed,
          target_claimed = EXCLUDED.target_claimed,
          source_refunded = EXCLUDED.source_refunded,
          target_refunded = EXCLUDED.target_refunded,
          source_lock_submitted = EXCLUDED.source_lock_submitted,
          target_lock_submitted = EXCLUDED.target_lock_submitted,
          claim_submitted = EXCLUDED.claim_submitted,
          refund_submitted = EXCLUDED.refund_submitted,
          fail_reason = EXCLUDED.fail_reason,
          updated_at = EXCLUDED.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		record.Hashlock[:],
		record.SourceSwapID,
		record.TargetSwapID,
		string(record.State),
		string(record.OriginChain),
		amountString(record.SourceAmount),
		amountString(record.TargetAmount),
		record.SourceTimelock,
		record.TargetTimelock,
		record.Participant,
		record.CounterpartyRecipient,
		secret,
		string(record.SecretChain),
		record.SourceClaimed,
		record.TargetClaimed,
		record.SourceRefunded,
		record.TargetRefunded,
		record.SourceLockSubmitted,
		record.TargetLockSubmitted,
		record.ClaimSubmitted,
		record.RefundSubmitted,
		record.FailReason,
		record.CreatedAt,
		record.UpdatedAt,
	)
	return errors.Wrap(err, "failed to upsert swap record")
}

// LoadSwaps returns all persisted records.
func (s *PostgresStore) LoadSwaps(ctx context.Context) ([]*types.SwapRecord, error) {
	query := `
      SELECT
          hashlock, source_swap_id, target_swap_id, state, origin_chain,
          source_amount, target_amount, source_timelock, target_timelock,
          participant, counterparty_recipient, secret, secret_chain,
          source_claimed, target_claimed, source_refunded, target_refunded,
          source_lock_submitted, target_lock_submitted, claim_submitted,
          refund_submitted, fail_reason, created_at, updated_at
      FROM swaps
      ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query swap records")
	}
	defer rows.Close()

	var records []*types.SwapRecord
	for rows.Next() {
		var (
			rec          types.SwapRecord
			hashlock     []byte
			state        string
			origin       string
			sourceAmount string
			targetAmount string
			secret       []byte
			secretChain  string
		)

		err := rows.Scan(
			&hashlock,
			&rec.SourceSwapID,
			&rec.TargetSwapID,
			&state,
			&origin,
			&sourceAmount,
			&targetAmount,
			&rec.SourceTimelock,
			&rec.TargetTimelock,
			&rec.Participant,
			&rec.CounterpartyRecipient,
			&secret,
			&secretChain,
			&rec.SourceClaimed,
			&rec.TargetClaimed,
			&rec.SourceRefunded,
			&rec.TargetRefunded,
			&rec.SourceLockSubmitted,
			&rec.TargetLockSubmitted,
			&rec.ClaimSubmitted,
			&rec.RefundSubmitted,
			&rec.FailReason,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan swap record")
		}

		copy(rec.Hashlock[:], hashlock)
		rec.State = types.SwapState(state)
		rec.OriginChain = types.ChainRole(origin)
		rec.SecretChain = types.ChainRole(secretChain)
		rec.SourceAmount = parseAmount(sourceAmount)
		rec.TargetAmount = parseAmount(targetAmount)
		if len(secret) == 32 {
			copy(rec.Secret[:], secret)
			rec.HasSecret = true
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read swap records")
	}
	return records, nil
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return ""
	}
	return amount.String()
}

func parseAmount(s string) *big.Int {
	if s == "" {
		return nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return amount
}
