package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/michaelpento.lv/sandwichbot/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    opportunity_id  TEXT    NOT NULL,
    bundle_hash     TEXT    NOT NULL DEFAULT '',
    front_run_tx    TEXT    NOT NULL DEFAULT '',
    back_run_tx     TEXT    NOT NULL DEFAULT '',
    success         INTEGER NOT NULL DEFAULT 0,
    exposed         INTEGER NOT NULL DEFAULT 0,
    actual_profit   TEXT    NOT NULL DEFAULT '0',
    gas_cost        TEXT    NOT NULL DEFAULT '0',
    net_profit      TEXT    NOT NULL DEFAULT '0',
    latency_ns      INTEGER NOT NULL DEFAULT 0,
    target_block    INTEGER NOT NULL DEFAULT 0,
    inclusion_block INTEGER NOT NULL DEFAULT 0,
    error           TEXT    NOT NULL DEFAULT '',
    completed_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_completed ON executions(completed_at DESC);
`

// Journal appends terminal execution results to a SQLite database. Wei
// amounts are stored as decimal text so no precision is lost.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %q: %w", path, err)
	}
	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one result.
func (j *Journal) Record(ctx context.Context, r *types.SandwichExecutionResult) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO executions (
			opportunity_id, bundle_hash, front_run_tx, back_run_tx, success, exposed,
			actual_profit, gas_cost, net_profit, latency_ns, target_block, inclusion_block,
			error, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.OpportunityID, r.BundleHash, hashText(r.FrontRunTx), hashText(r.BackRunTx),
		r.Success, r.Exposed,
		weiText(r.ActualProfit), weiText(r.GasCost), weiText(r.NetProfit),
		r.Latency.Nanoseconds(), r.TargetBlock, r.InclusionBlock,
		r.Error, r.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution %s: %w", r.OpportunityID, err)
	}
	return nil
}

// Recent returns up to n results, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]types.SandwichExecutionResult, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT opportunity_id, bundle_hash, front_run_tx, back_run_tx, success, exposed,
		       actual_profit, gas_cost, net_profit, latency_ns, target_block, inclusion_block,
		       error, completed_at
		FROM executions
		ORDER BY completed_at DESC, id DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []types.SandwichExecutionResult
	for rows.Next() {
		var (
			r                      types.SandwichExecutionResult
			front, back            string
			profit, gasCost, net   string
			latency, completedUnix int64
		)
		if err := rows.Scan(
			&r.OpportunityID, &r.BundleHash, &front, &back, &r.Success, &r.Exposed,
			&profit, &gasCost, &net, &latency, &r.TargetBlock, &r.InclusionBlock,
			&r.Error, &completedUnix,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		r.FrontRunTx = common.HexToHash(front)
		r.BackRunTx = common.HexToHash(back)
		if r.ActualProfit, err = parseWei(profit); err != nil {
			return nil, err
		}
		if r.GasCost, err = parseWei(gasCost); err != nil {
			return nil, err
		}
		if r.NetProfit, err = parseWei(net); err != nil {
			return nil, err
		}
		r.Latency = time.Duration(latency)
		r.CompletedAt = time.Unix(0, completedUnix)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes results completed before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM executions WHERE completed_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return res.RowsAffected()
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func hashText(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func weiText(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func parseWei(s string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed wei amount %q in journal", s)
	}
	return x, nil
}
