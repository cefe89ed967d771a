package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// Postgres implementa o ledger de posições e stake.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrNotFound          = errors.New("not found")

	// ErrLockContention: outro escritor segura o advisory lock do agente.
	// Retryable — o chamador re-tenta, nunca fica bloqueado esperando.
	ErrLockContention = errors.New("lock contention")
)

// lockAgent tenta o advisory lock transacional por agente. Falha rápido em
// contenção em vez de bloquear: mutação de posição em trade-time é o caminho
// concorrente com a liquidação de época.
func lockAgent(ctx context.Context, tx *sql.Tx, agentID string) error {
	var ok bool
	if err := tx.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtext($1))`, agentID).Scan(&ok); err != nil {
		return err
	}
	if !ok {
		return ErrLockContention
	}
	return nil
}

// RecordTrade registra a última trade de um agente contra o mercado de um
// belief: upsert da posição aberta com o notional da trade e linha de
// auditoria em position_trades. É deste notional que o peso w_i deriva.
func (p *Postgres) RecordTrade(ctx context.Context, agentID, beliefID string, notional float64, externalRef string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var one int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM beliefs WHERE id=$1`, beliefID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}

	if err = lockAgent(ctx, tx, agentID); err != nil {
		return err
	}

	// Agente passa a existir na primeira trade
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO agents (id, total_stake) VALUES ($1, 0)
		ON CONFLICT (id) DO NOTHING`, agentID); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO positions (agent_id, belief_id, last_trade_notional, open, updated_at)
		VALUES ($1,$2,$3,TRUE,NOW())
		ON CONFLICT (agent_id, belief_id) DO UPDATE SET
		  last_trade_notional = EXCLUDED.last_trade_notional,
		  open                = TRUE,
		  updated_at          = NOW()`, agentID, beliefID, notional); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO position_trades (id, agent_id, belief_id, notional, external_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())`,
		uuid.NewString(), agentID, beliefID, notional, externalRef); err != nil {
		return err
	}

	return tx.Commit()
}

// ClosePosition zera a posição do agente no belief: peso 0 dali em diante.
func (p *Postgres) ClosePosition(ctx context.Context, agentID, beliefID string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err = lockAgent(ctx, tx, agentID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE positions SET open=FALSE, last_trade_notional=0, updated_at=NOW()
		WHERE agent_id=$1 AND belief_id=$2`, agentID, beliefID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// GetWeight devolve w_i = fração configurada do notional da última trade.
// Posição fechada ou inexistente = 0, não erro; NotFound só para belief
// inexistente.
func (p *Postgres) GetWeight(ctx context.Context, agentID, beliefID string, fraction float64) (float64, error) {
	var one int
	if err := p.db.QueryRowContext(ctx, `SELECT 1 FROM beliefs WHERE id=$1`, beliefID).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}

	var notional float64
	err := p.db.QueryRowContext(ctx, `
		SELECT last_trade_notional FROM positions
		WHERE agent_id=$1 AND belief_id=$2 AND open`, agentID, beliefID).Scan(&notional)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fraction * notional, nil
}

// ApplyStakeDelta aplica um delta único de stake de forma atômica (lock
// pessimista na linha do agente) e registra no ledger. Saldo nunca negativo:
// débito maior que o stake é rejeitado neste caminho.
func (p *Postgres) ApplyStakeDelta(ctx context.Context, agentID string, delta float64, externalRef string) (newBalance float64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var stake float64
	if err = tx.QueryRowContext(ctx,
		`SELECT total_stake FROM agents WHERE id=$1 FOR UPDATE`, agentID).Scan(&stake); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, err
	}

	if stake+delta < 0 {
		return 0, ErrInsufficientStake
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE agents SET total_stake = total_stake + $1 WHERE id=$2`, delta, agentID); err != nil {
		return 0, err
	}

	op := "CREDIT"
	if delta < 0 {
		op = "DEBIT"
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO stake_ledger (id, agent_id, operation_type, amount, description, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())`,
		uuid.NewString(), agentID, op, delta, "delta:"+externalRef); err != nil {
		return 0, err
	}

	if err = tx.QueryRowContext(ctx,
		`SELECT total_stake FROM agents WHERE id=$1`, agentID).Scan(&newBalance); err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// GetStake retorna o saldo total em risco do agente.
func (p *Postgres) GetStake(ctx context.Context, agentID string) (float64, error) {
	var stake float64
	err := p.db.QueryRowContext(ctx,
		`SELECT total_stake FROM agents WHERE id=$1`, agentID).Scan(&stake)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return stake, err
}
