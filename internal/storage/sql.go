package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"
)

// sqlStore holds the queries shared by the SQLite and Postgres backends.
// Queries are written with ? placeholders and passed through rebind.
type sqlStore struct {
	db     *sql.DB
	logger *slog.Logger
	rebind func(string) string
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

// withTx runs fn in a transaction, rolling back on any error
func (s *sqlStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// CreateRound stores the initial round of a raffle and opens its ledger account
func (s *sqlStore) CreateRound(ctx context.Context, r *Round) error {
	players, err := encodeJSON(nonNil(r.Players))
	if err != nil {
		return fmt.Errorf("encoding players: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM rounds WHERE raffle_id = ?`, r.RaffleID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrExists
		}
		_, err = s.exec(ctx, tx, `
			INSERT INTO rounds (raffle_id, address, entrance_fee, interval_seconds, round, state, players, last_timestamp, recent_winner, pending_request_id, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.RaffleID, normalizeAccount(r.Address), r.EntranceFee, r.IntervalSeconds, r.Round, r.State, players, r.LastTimestamp, r.RecentWinner, r.PendingRequestID, r.Version)
		if err != nil {
			return fmt.Errorf("inserting round: %w", err)
		}
		return s.ensureAccount(ctx, tx, r.Address)
	})
}

// LoadRound loads a raffle round along with the raffle account balance
func (s *sqlStore) LoadRound(ctx context.Context, raffleID string) (*Round, error) {
	query := `
		SELECT r.raffle_id, r.address, r.entrance_fee, r.interval_seconds, r.round, r.state, r.players,
			r.last_timestamp, r.recent_winner, r.pending_request_id, r.version, COALESCE(a.balance, '0')
		FROM rounds r
		LEFT JOIN accounts a ON a.address = r.address
		WHERE r.raffle_id = ?
	`
	var r Round
	var players []byte
	err := s.queryRow(ctx, s.db, query, raffleID).Scan(
		&r.RaffleID, &r.Address, &r.EntranceFee, &r.IntervalSeconds, &r.Round, &r.State, &players,
		&r.LastTimestamp, &r.RecentWinner, &r.PendingRequestID, &r.Version, &r.Balance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Players, err = decodeStrings(players); err != nil {
		return nil, fmt.Errorf("decoding players: %w", err)
	}
	return &r, nil
}

// ApplyRound commits a round transition together with its ledger movements
// and events in a single transaction. u.Round.Version is the version the
// caller read; if another writer committed since, nothing is applied and
// ErrConflict is returned.
func (s *sqlStore) ApplyRound(ctx context.Context, u RoundUpdate) error {
	if u.Round == nil {
		return errors.New("round update without round")
	}
	players, err := encodeJSON(nonNil(u.Round.Players))
	if err != nil {
		return fmt.Errorf("encoding players: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// The row lock taken here serializes writers across processes.
		res, err := s.exec(ctx, tx, `
			UPDATE rounds
			SET round = ?, state = ?, players = ?, last_timestamp = ?, recent_winner = ?, pending_request_id = ?, version = version + 1
			WHERE raffle_id = ? AND version = ?
		`, u.Round.Round, u.Round.State, players, u.Round.LastTimestamp, u.Round.RecentWinner, u.Round.PendingRequestID, u.Round.RaffleID, u.Round.Version)
		if err != nil {
			return fmt.Errorf("updating round: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("updating round: %w", err)
		}
		if n == 0 {
			var exists int
			if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM rounds WHERE raffle_id = ?`, u.Round.RaffleID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return ErrNotFound
			}
			return fmt.Errorf("%w: raffle %s at version %d", ErrConflict, u.Round.RaffleID, u.Round.Version)
		}

		if u.Credit != nil && u.Credit.Sign() > 0 {
			if err := s.credit(ctx, tx, u.Round.Address, u.Credit); err != nil {
				return fmt.Errorf("crediting raffle: %w", err)
			}
		}

		if u.Payout != nil {
			amount, err := parseAmount(u.Payout.Amount)
			if err != nil {
				return err
			}
			if err := s.transfer(ctx, tx, u.Round.Address, u.Payout.Winner, amount); err != nil {
				return err
			}
			_, err = s.exec(ctx, tx, `
				INSERT INTO payouts (id, raffle_id, round, winner, amount, request_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, u.Payout.ID, u.Round.RaffleID, u.Payout.Round, normalizeAccount(u.Payout.Winner), u.Payout.Amount, u.Payout.RequestID, u.Payout.CreatedAt)
			if err != nil {
				return fmt.Errorf("recording payout: %w", err)
			}
		}

		for _, e := range u.Events {
			payload, err := encodeJSON(e.Payload)
			if err != nil {
				return fmt.Errorf("encoding event payload: %w", err)
			}
			_, err = s.exec(ctx, tx, `
				INSERT INTO events (id, raffle_id, name, round, payload, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, e.ID, u.Round.RaffleID, e.Name, e.Round, payload, e.CreatedAt)
			if err != nil {
				return fmt.Errorf("recording event %s: %w", e.Name, err)
			}
		}
		return nil
	})
}

// ListEvents lists raffle events, newest first
func (s *sqlStore) ListEvents(ctx context.Context, raffleID string, pagination PaginationParams) (*PaginatedResult[Event], error) {
	before, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.db, `
		SELECT seq, id, raffle_id, name, round, payload, created_at
		FROM events
		WHERE raffle_id = ? AND seq < ?
		ORDER BY seq DESC
		LIMIT ?
	`, raffleID, before, pagination.Limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.Seq, &e.ID, &e.RaffleID, &e.Name, &e.Round, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("decoding event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &PaginatedResult[Event]{Data: events}
	if len(events) > pagination.Limit {
		result.Data = events[:pagination.Limit]
		result.HasMore = true
		result.NextCursor = strconv.FormatInt(result.Data[len(result.Data)-1].Seq, 10)
	}
	return result, nil
}

// ListPayouts lists completed payouts, newest first
func (s *sqlStore) ListPayouts(ctx context.Context, raffleID string, pagination PaginationParams) (*PaginatedResult[Payout], error) {
	before, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, s.db, `
		SELECT seq, id, raffle_id, round, winner, amount, request_id, created_at
		FROM payouts
		WHERE raffle_id = ? AND seq < ?
		ORDER BY seq DESC
		LIMIT ?
	`, raffleID, before, pagination.Limit+1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.Seq, &p.ID, &p.RaffleID, &p.Round, &p.Winner, &p.Amount, &p.RequestID, &p.CreatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &PaginatedResult[Payout]{Data: payouts}
	if len(payouts) > pagination.Limit {
		result.Data = payouts[:pagination.Limit]
		result.HasMore = true
		result.NextCursor = strconv.FormatInt(result.Data[len(result.Data)-1].Seq, 10)
	}
	return result, nil
}

// Balance returns an account balance; unknown accounts hold zero
func (s *sqlStore) Balance(ctx context.Context, account string) (*big.Int, error) {
	var raw string
	err := s.queryRow(ctx, s.db, `SELECT balance FROM accounts WHERE address = ?`, normalizeAccount(account)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return parseAmount(raw)
}

// SetRejectsFunds marks whether an account refuses incoming transfers
func (s *sqlStore) SetRejectsFunds(ctx context.Context, account string, rejects bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.ensureAccount(ctx, tx, account); err != nil {
			return err
		}
		_, err := s.exec(ctx, tx, `UPDATE accounts SET rejects_funds = ? WHERE address = ?`, rejects, normalizeAccount(account))
		return err
	})
}

func (s *sqlStore) ensureAccount(ctx context.Context, q queryer, account string) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO accounts (address, balance, rejects_funds) VALUES (?, '0', ?)
		ON CONFLICT (address) DO NOTHING
	`, normalizeAccount(account), false)
	return err
}

func (s *sqlStore) readAccount(ctx context.Context, q queryer, account string) (*big.Int, bool, error) {
	if err := s.ensureAccount(ctx, q, account); err != nil {
		return nil, false, err
	}
	var raw string
	var rejects bool
	err := s.queryRow(ctx, q, `SELECT balance, rejects_funds FROM accounts WHERE address = ?`, normalizeAccount(account)).Scan(&raw, &rejects)
	if err != nil {
		return nil, false, err
	}
	bal, err := parseAmount(raw)
	return bal, rejects, err
}

func (s *sqlStore) setBalance(ctx context.Context, q queryer, account string, bal *big.Int) error {
	_, err := s.exec(ctx, q, `UPDATE accounts SET balance = ? WHERE address = ?`, bal.String(), normalizeAccount(account))
	return err
}

func (s *sqlStore) credit(ctx context.Context, q queryer, account string, amount *big.Int) error {
	bal, _, err := s.readAccount(ctx, q, account)
	if err != nil {
		return err
	}
	return s.setBalance(ctx, q, account, new(big.Int).Add(bal, amount))
}

func (s *sqlStore) transfer(ctx context.Context, q queryer, from, to string, amount *big.Int) error {
	fromBal, _, err := s.readAccount(ctx, q, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBal, amount)
	}
	toBal, rejects, err := s.readAccount(ctx, q, to)
	if err != nil {
		return err
	}
	if rejects {
		return ErrTransferRejected
	}
	if normalizeAccount(from) == normalizeAccount(to) {
		return nil
	}
	if err := s.setBalance(ctx, q, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return s.setBalance(ctx, q, to, new(big.Int).Add(toBal, amount))
}

// CreateSubscription creates an empty randomness subscription
func (s *sqlStore) CreateSubscription(ctx context.Context, owner string) (*Subscription, error) {
	sub := &Subscription{Owner: normalizeAccount(owner), Balance: "0", CreatedAt: time.Now().Unix()}
	err := s.queryRow(ctx, s.db, `
		INSERT INTO subscriptions (owner, balance, created_at) VALUES (?, ?, ?) RETURNING id
	`, sub.Owner, sub.Balance, sub.CreatedAt).Scan(&sub.ID)
	if err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	return sub, nil
}

// GetSubscription returns a subscription with its consumers
func (s *sqlStore) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	var sub Subscription
	err := s.queryRow(ctx, s.db, `SELECT id, owner, balance, created_at FROM subscriptions WHERE id = ?`, id).Scan(
		&sub.ID, &sub.Owner, &sub.Balance, &sub.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, s.db, `SELECT consumer FROM subscription_consumers WHERE subscription_id = ? ORDER BY consumer`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		sub.Consumers = append(sub.Consumers, c)
	}
	return &sub, rows.Err()
}

// FundSubscription adds funds to a subscription
func (s *sqlStore) FundSubscription(ctx context.Context, id int64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := s.queryRow(ctx, tx, `SELECT balance FROM subscriptions WHERE id = ?`, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		bal, err := parseAmount(raw)
		if err != nil {
			return err
		}
		_, err = s.exec(ctx, tx, `UPDATE subscriptions SET balance = ? WHERE id = ?`, new(big.Int).Add(bal, amount).String(), id)
		return err
	})
}

// AddConsumer authorizes a consumer on a subscription
func (s *sqlStore) AddConsumer(ctx context.Context, id int64, consumer string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM subscriptions WHERE id = ?`, id).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err := s.exec(ctx, tx, `
			INSERT INTO subscription_consumers (subscription_id, consumer) VALUES (?, ?)
			ON CONFLICT (subscription_id, consumer) DO NOTHING
		`, id, normalizeAccount(consumer))
		return err
	})
}

// CreateRequest stores a pending randomness request and assigns its ID
func (s *sqlStore) CreateRequest(ctx context.Context, r *RandomnessRequest) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	r.Status = RequestPending
	err := s.queryRow(ctx, s.db, `
		INSERT INTO vrf_requests (subscription_id, consumer, key_hash, seed, min_confirmations, callback_gas_limit, num_words, status, proof, words, callback_error, created_at, fulfilled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '[]', '', ?, 0)
		RETURNING id
	`, r.SubscriptionID, normalizeAccount(r.Consumer), r.KeyHash, r.Seed, r.MinConfirmations, r.CallbackGasLimit, r.NumWords, r.Status, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return nil
}

const requestColumns = `id, subscription_id, consumer, key_hash, seed, min_confirmations, callback_gas_limit, num_words, status, proof, words, callback_error, created_at, fulfilled_at`

func scanRequest(scan func(dest ...any) error) (*RandomnessRequest, error) {
	var r RandomnessRequest
	var words []byte
	err := scan(&r.ID, &r.SubscriptionID, &r.Consumer, &r.KeyHash, &r.Seed, &r.MinConfirmations, &r.CallbackGasLimit,
		&r.NumWords, &r.Status, &r.Proof, &words, &r.CallbackError, &r.CreatedAt, &r.FulfilledAt)
	if err != nil {
		return nil, err
	}
	if r.Words, err = decodeStrings(words); err != nil {
		return nil, fmt.Errorf("decoding words: %w", err)
	}
	return &r, nil
}

// GetRequest returns a randomness request by ID
func (s *sqlStore) GetRequest(ctx context.Context, id int64) (*RandomnessRequest, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+requestColumns+` FROM vrf_requests WHERE id = ?`, id)
	r, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListPendingRequests lists the oldest pending requests first
func (s *sqlStore) ListPendingRequests(ctx context.Context, limit int) ([]RandomnessRequest, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+requestColumns+` FROM vrf_requests WHERE status = ? ORDER BY id LIMIT ?`, RequestPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RandomnessRequest
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CompleteRequest marks a pending request as fulfilled or failed
func (s *sqlStore) CompleteRequest(ctx context.Context, c RequestCompletion) error {
	words, err := encodeJSON(nonNil(c.Words))
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, s.db, `
		UPDATE vrf_requests
		SET status = ?, proof = ?, words = ?, callback_error = ?, fulfilled_at = ?
		WHERE id = ? AND status = ?
	`, c.Status, c.Proof, words, c.CallbackError, c.FulfilledAt, c.ID, RequestPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetRequest(ctx, c.ID); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
