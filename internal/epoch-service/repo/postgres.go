package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/beliefmkt/belief-consensus-poc/internal/epoch-service/engine"
)

// Postgres implementa BeliefStore, SubmissionStore, PositionStore e Committer
// sobre o mesmo banco — o commit final precisa ser uma transação única.
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// GetBelief carrega o estado corrente de um belief.
func (p *Postgres) GetBelief(ctx context.Context, beliefID string) (*engine.Belief, error) {
	b := engine.Belief{ID: beliefID}
	err := p.db.QueryRowContext(ctx, `
		SELECT previous_aggregate, certainty, last_processed_epoch, expiration_epoch, updated_at
		FROM beliefs WHERE id=$1`, beliefID).
		Scan(&b.PreviousAggregate, &b.Certainty, &b.LastProcessedEpoch, &b.ExpirationEpoch, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, beliefID)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// BeliefExists responde só existência (usado pelo WeightResolver).
func (p *Postgres) BeliefExists(ctx context.Context, beliefID string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM beliefs WHERE id=$1`, beliefID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LastTradeNotionals devolve o notional da última trade por agente com
// posição aberta neste belief. Posição fechada fica de fora (peso 0).
func (p *Postgres) LastTradeNotionals(ctx context.Context, beliefID string) (map[string]float64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_id, last_trade_notional
		FROM positions
		WHERE belief_id=$1 AND open`, beliefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var agentID string
		var notional float64
		if err := rows.Scan(&agentID, &notional); err != nil {
			return nil, err
		}
		out[agentID] = notional
	}
	return out, rows.Err()
}

// LatestByAgent devolve a submissão mais recente por agente — só a última
// linha de cada agente alimenta a agregação.
func (p *Postgres) LatestByAgent(ctx context.Context, beliefID string) (map[string]engine.Report, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT ON (agent_id) agent_id, belief, meta_prediction
		FROM submissions
		WHERE belief_id=$1
		ORDER BY agent_id, updated_at DESC`, beliefID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]engine.Report)
	for rows.Next() {
		var agentID string
		var r engine.Report
		if err := rows.Scan(&agentID, &r.Belief, &r.MetaPrediction); err != nil {
			return nil, err
		}
		out[agentID] = r
	}
	return out, rows.Err()
}

// ActiveAgents devolve os agentes com submissão marcada com a época corrente
// — é esse conjunto que define quem entra no scoring.
func (p *Postgres) ActiveAgents(ctx context.Context, beliefID string, epoch int64) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT agent_id FROM submissions
		WHERE belief_id=$1 AND epoch=$2`, beliefID, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CommitEpochTransition persiste a transição inteira numa transação única:
// belief (aggregate/certainty/last_processed_epoch), linha de histórico,
// deltas de stake e eventos de auditoria. Qualquer falha no meio desfaz tudo.
//
// Os agentes são travados com FOR UPDATE em ordem de id — duas liquidações
// concorrentes que tocam os mesmos agentes serializam sem deadlock. O piso
// de stake é aplicado aqui, por agente, nunca em pool.
func (p *Postgres) CommitEpochTransition(ctx context.Context, t *engine.EpochTransition) (map[string]float64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Guard no banco: mesmo que duas invocações passem pela checagem de
	// idempotência em memória, só uma avança a época.
	res, err := tx.ExecContext(ctx, `
		UPDATE beliefs
		SET previous_aggregate=$1, certainty=$2, last_processed_epoch=$3, updated_at=NOW()
		WHERE id=$4 AND last_processed_epoch < $3`,
		t.Aggregate, t.Certainty, t.Epoch, t.BeliefID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.New("epoch already advanced by concurrent settlement")
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO belief_history (id, belief_id, epoch, aggregate, certainty, disagreement_entropy, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		uuid.NewString(), t.BeliefID, t.Epoch, t.Aggregate, t.Certainty, t.DisagreementEntropy); err != nil {
		return nil, err
	}

	agentIDs := make([]string, 0, len(t.StakeDeltas))
	for id := range t.StakeDeltas {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	applied := make(map[string]float64, len(agentIDs))
	for _, agentID := range agentIDs {
		delta := t.StakeDeltas[agentID]

		// Mesmo keyspace de advisory lock do caminho de trade do ledger:
		// liquidação e mutação de posição em trade-time nunca escrevem o
		// mesmo agente ao mesmo tempo. Falha rápido — quem re-tenta é o
		// chamador.
		var locked bool
		if err = tx.QueryRowContext(ctx,
			`SELECT pg_try_advisory_xact_lock(hashtext($1))`, agentID).Scan(&locked); err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("%w: agent %s", engine.ErrLockContention, agentID)
		}

		var stake float64
		if err = tx.QueryRowContext(ctx,
			`SELECT total_stake FROM agents WHERE id=$1 FOR UPDATE`, agentID).Scan(&stake); err != nil {
			return nil, fmt.Errorf("lock agent %s: %w", agentID, err)
		}

		// total_stake nunca negativo: clamp independente por agente.
		if delta < -stake {
			delta = -stake
		}
		applied[agentID] = delta

		if _, err = tx.ExecContext(ctx,
			`UPDATE agents SET total_stake = total_stake + $1 WHERE id=$2`, delta, agentID); err != nil {
			return nil, fmt.Errorf("apply stake delta %s: %w", agentID, err)
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO redistribution_events (id, agent_id, belief_id, epoch, stake_delta, created_at)
			VALUES ($1,$2,$3,$4,$5,NOW())`,
			uuid.NewString(), agentID, t.BeliefID, t.Epoch, delta); err != nil {
			return nil, fmt.Errorf("audit event %s: %w", agentID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return applied, nil
}

// HistoryByBelief lê o histórico append-only (consumo de analytics).
func (p *Postgres) HistoryByBelief(ctx context.Context, beliefID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, belief_id, epoch, aggregate, certainty, disagreement_entropy, recorded_at
		FROM belief_history
		WHERE belief_id=$1
		ORDER BY epoch DESC
		LIMIT $2`, beliefID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var h HistoryRecord
		if err := rows.Scan(&h.ID, &h.BeliefID, &h.Epoch, &h.Aggregate, &h.Certainty, &h.DisagreementEntropy, &h.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// EventsByBeliefEpoch lê a trilha de auditoria de um belief-época.
func (p *Postgres) EventsByBeliefEpoch(ctx context.Context, beliefID string, epoch int64) ([]RedistributionEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, agent_id, belief_id, epoch, stake_delta, created_at
		FROM redistribution_events
		WHERE belief_id=$1 AND epoch=$2
		ORDER BY agent_id`, beliefID, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RedistributionEvent
	for rows.Next() {
		var e RedistributionEvent
		if err := rows.Scan(&e.ID, &e.AgentID, &e.BeliefID, &e.Epoch, &e.StakeDelta, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
