package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type PostgresConfig struct {
	DSN         string        `envconfig:"DSN" required:"true"`
	DialTimeout time.Duration `split_words:"true" default:"5s"`
}

type conversationRow struct {
	bun.BaseModel `bun:"table:conversation_states,alias:cs"`

	ConversationID string             `bun:"conversation_id,pk"`
	TurnIndex      int                `bun:"turn_index,notnull"`
	State          *ConversationState `bun:"state,type:jsonb,notnull"`
	UpdatedAt      time.Time          `bun:"updated_at,notnull"`
}

// PostgresStore persists ConversationState as one jsonb row per conversation.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects through pgdriver and returns a bun handle.
func OpenPostgres(cfg PostgresConfig) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithDialTimeout(timeout),
	))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Migrate creates the backing table when missing.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.NewCreateTable().
		Model((*conversationRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create conversation_states: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}

	row := new(conversationRow)
	err := p.db.NewSelect().
		Model(row).
		Where("conversation_id = ?", conversationID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("select conversation state: %w", err)
	}
	if row.State == nil {
		return nil, ErrStateNotFound
	}

	row.State.EnsureMaps()
	if err := row.State.Validate(); err != nil {
		return nil, fmt.Errorf("invalid conversation state loaded from store: %w", err)
	}
	return row.State, nil
}

func (p *PostgresStore) Save(ctx context.Context, st *ConversationState) error {
	// encodeState applies the same defaults and validation as the redis stores.
	if _, err := encodeState(st); err != nil {
		return err
	}

	row := &conversationRow{
		ConversationID: st.ConversationID,
		TurnIndex:      st.TurnIndex,
		State:          st,
		UpdatedAt:      st.UpdatedAt,
	}
	_, err := p.db.NewInsert().
		Model(row).
		On("CONFLICT (conversation_id) DO UPDATE").
		Set("turn_index = EXCLUDED.turn_index").
		Set("state = EXCLUDED.state").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert conversation state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidConversation
	}
	_, err := p.db.NewDelete().
		Model((*conversationRow)(nil)).
		Where("conversation_id = ?", conversationID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
