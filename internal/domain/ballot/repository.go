package ballot

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventRecord is one journaled ballot event.
type EventRecord struct {
	ID        int64           `json:"id"`
	EventID   uuid.UUID       `json:"eventId"`
	Session   int             `json:"session"`
	Type      EventType       `json:"type"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ResultRecord archives one finalized session.
type ResultRecord struct {
	Session           int       `json:"session"`
	WinningProposalID int       `json:"winningProposalId"`
	WinnerDescription string    `json:"winnerDescription"`
	RandomTieBreak    bool      `json:"randomTieBreak"`
	FinalizedAt       time.Time `json:"finalizedAt"`
}

// Repository persists the audit trail: the append-only event journal and the
// finalized-result archive. The in-memory coordinator stays authoritative;
// the repository lets winners and history survive restarts.
type Repository interface {
	AppendEvent(ctx context.Context, record *EventRecord) error
	ListEvents(ctx context.Context, session int, limit, offset int) ([]*EventRecord, error)

	SaveResult(ctx context.Context, record *ResultRecord) error
	GetResult(ctx context.Context, session int) (*ResultRecord, error)
	ListResults(ctx context.Context) ([]*ResultRecord, error)
}
