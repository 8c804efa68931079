package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlayerStats struct {
	UserID string
	Wins   int
	Losses int
	// LedgerVerified counts rounds whose commitment was confirmed on the ledger.
	LedgerVerified int
	UpdatedAt      time.Time
}

// GameResult is the durable record of one resolved round.
type GameResult struct {
	SessionID     string
	UserID        string
	Won           bool
	Verification  string
	Algorithm     string
	Commitment    string
	LedgerAddress string
	Lie           string
	Answer        string
	FinishedAt    time.Time
}

type StatsStore struct {
	db *pgxpool.Pool
}

func NewStatsStore(db *pgxpool.Pool) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) InitForUser(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO player_stats (user_id, wins, losses, ledger_verified)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (s *StatsStore) Get(ctx context.Context, userID string) (PlayerStats, error) {
	var st PlayerStats
	err := s.db.QueryRow(ctx, `
		SELECT user_id, wins, losses, ledger_verified, updated_at
		FROM player_stats
		WHERE user_id=$1
	`, userID).Scan(&st.UserID, &st.Wins, &st.Losses, &st.LedgerVerified, &st.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// a player who never finished a round has zero stats
		return PlayerStats{UserID: userID}, nil
	}
	if err != nil {
		return PlayerStats{}, err
	}
	return st, nil
}

// RecordResult stores a finished round and bumps the player's counters. A
// session is counted once no matter how often it is recorded.
func (s *StatsStore) RecordResult(ctx context.Context, r GameResult) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO game_results
				(session_id, user_id, won, verification, algorithm, commitment, ledger_address, lie, answer, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (session_id) DO NOTHING
		`, r.SessionID, r.UserID, r.Won, r.Verification, r.Algorithm, r.Commitment, r.LedgerAddress, r.Lie, r.Answer, r.FinishedAt)
		if err != nil {
			return fmt.Errorf("insert game result: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		win, loss, verified := 0, 1, 0
		if r.Won {
			win, loss = 1, 0
		}
		if r.Verification == "ledger" {
			verified = 1
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO player_stats (user_id, wins, losses, ledger_verified)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				wins = player_stats.wins + EXCLUDED.wins,
				losses = player_stats.losses + EXCLUDED.losses,
				ledger_verified = player_stats.ledger_verified + EXCLUDED.ledger_verified,
				updated_at = now()
		`, r.UserID, win, loss, verified)
		if err != nil {
			return fmt.Errorf("update stats: %w", err)
		}
		return nil
	})
}

// RecentResults returns the player's latest rounds, newest first.
func (s *StatsStore) RecentResults(ctx context.Context, userID string, limit int) ([]GameResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, user_id, won, verification, algorithm, commitment, ledger_address, lie, answer, finished_at
		FROM game_results
		WHERE user_id=$1
		ORDER BY finished_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (GameResult, error) {
		var r GameResult
		err := row.Scan(&r.SessionID, &r.UserID, &r.Won, &r.Verification, &r.Algorithm, &r.Commitment, &r.LedgerAddress, &r.Lie, &r.Answer, &r.FinishedAt)
		return r, err
	})
}
