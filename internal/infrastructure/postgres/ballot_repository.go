package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ballot-engine/ballot-engine/internal/domain/ballot"
)

// BallotRepository implements ballot.Repository.
type BallotRepository struct {
	pool *pgxpool.Pool
}

func NewBallotRepository(pool *pgxpool.Pool) *BallotRepository {
	return &BallotRepository{pool: pool}
}

func (r *BallotRepository) AppendEvent(ctx context.Context, record *ballot.EventRecord) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO ballot_events
		(event_id, session, type, actor, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, record.EventID, record.Session, record.Type, record.Actor, record.Payload, record.CreatedAt)
	return row.Scan(&record.ID)
}

func (r *BallotRepository) ListEvents(ctx context.Context, session int, limit, offset int) ([]*ballot.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, session, type, actor, payload, created_at
		FROM ballot_events
		WHERE session=$1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`, session, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ballot.EventRecord
	for rows.Next() {
		e, err := scanEventRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *BallotRepository) SaveResult(ctx context.Context, record *ballot.ResultRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ballot_results
		(session, winning_proposal_id, winner_description, random_tie_break, finalized_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session) DO UPDATE
		SET winning_proposal_id=EXCLUDED.winning_proposal_id,
		    winner_description=EXCLUDED.winner_description,
		    random_tie_break=EXCLUDED.random_tie_break,
		    finalized_at=EXCLUDED.finalized_at
	`, record.Session, record.WinningProposalID, record.WinnerDescription, record.RandomTieBreak, record.FinalizedAt)
	return err
}

func (r *BallotRepository) GetResult(ctx context.Context, session int) (*ballot.ResultRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT session, winning_proposal_id, winner_description, random_tie_break, finalized_at
		FROM ballot_results
		WHERE session=$1
	`, session)
	var res ballot.ResultRecord
	if err := row.Scan(&res.Session, &res.WinningProposalID, &res.WinnerDescription, &res.RandomTieBreak, &res.FinalizedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ballot.ErrUnknownSession
		}
		return nil, err
	}
	return &res, nil
}

func (r *BallotRepository) ListResults(ctx context.Context) ([]*ballot.ResultRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT session, winning_proposal_id, winner_description, random_tie_break, finalized_at
		FROM ballot_results
		ORDER BY session ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ballot.ResultRecord
	for rows.Next() {
		var res ballot.ResultRecord
		if err := rows.Scan(&res.Session, &res.WinningProposalID, &res.WinnerDescription, &res.RandomTieBreak, &res.FinalizedAt); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

func scanEventRecord(row pgx.Row) (*ballot.EventRecord, error) {
	var e ballot.EventRecord
	var payload json.RawMessage
	if err := row.Scan(&e.ID, &e.EventID, &e.Session, &e.Type, &e.Actor, &payload, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		e.Payload = payload
	}
	return &e, nil
}
