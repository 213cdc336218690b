package registry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainindex/coordinator/internal/registrytypes"
)

// PostgresRegistry is a Registry backed by a read replica of the indexer
// registry's Postgres projection, grounded on the teacher corpus's
// pgxpool connection-pool-tuning idiom (env-var overrides, per-connection
// statement_timeout/idle_in_transaction_session_timeout RuntimeParams).
type PostgresRegistry struct {
	db *pgxpool.Pool
}

// NewPostgresRegistry opens a pool against dbURL, applying the same
// env-var-driven pool tuning and per-connection timeouts as the rest of the
// corpus's Postgres clients.
func NewPostgresRegistry(ctx context.Context, dbURL string) (*PostgresRegistry, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry db url: %w", err)
	}

	if v := os.Getenv("REGISTRY_DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("REGISTRY_DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.MinConns = int32(n)
		}
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	if _, ok := config.ConnConfig.RuntimeParams["statement_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["statement_timeout"] = getEnvDefault("REGISTRY_DB_STATEMENT_TIMEOUT", "30000")
	}
	if _, ok := config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"]; !ok {
		config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] = getEnvDefault("REGISTRY_DB_IDLE_TX_TIMEOUT", "120000")
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to registry db: %w", err)
	}
	return &PostgresRegistry{db: pool}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (r *PostgresRegistry) Close() {
	r.db.Close()
}

const fetchColumns = `account_id, function_name, code, schema, rule_kind, affected_account_id,
	status, function, contract_account_id, standard, version, event,
	start_block_kind, start_block_height, created_at_block_height,
	updated_at_block_height, deleted_at_block_height`

func (r *PostgresRegistry) FetchAll(ctx context.Context) (map[registrytypes.Identity]registrytypes.IndexerConfig, error) {
	rows, err := r.db.Query(ctx, "SELECT "+fetchColumns+" FROM indexer_registry")
	if err != nil {
		return nil, fmt.Errorf("fetch all registry configs: %w", err)
	}
	defer rows.Close()

	out := make(map[registrytypes.Identity]registrytypes.IndexerConfig)
	for rows.Next() {
		cfg, err := scanIndexerConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		out[cfg.Identity] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registry rows: %w", err)
	}
	return out, nil
}

func (r *PostgresRegistry) Fetch(ctx context.Context, identity registrytypes.Identity) (registrytypes.IndexerConfig, bool, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+fetchColumns+" FROM indexer_registry WHERE account_id = $1 AND function_name = $2",
		identity.AccountID, identity.FunctionName)

	cfg, err := scanIndexerConfig(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return registrytypes.IndexerConfig{}, false, nil
		}
		return registrytypes.IndexerConfig{}, false, fmt.Errorf("fetch registry config for %s: %w", identity.FullName(), err)
	}
	return cfg, true, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndexerConfig(row rowScanner) (registrytypes.IndexerConfig, error) {
	var (
		cfg                registrytypes.IndexerConfig
		ruleKind           int
		status             int
		startBlockKind     int
		startBlockHeight   *uint64
		updatedAtHeight    *uint64
		deletedAtHeight    *uint64
	)

	err := row.Scan(
		&cfg.AccountID, &cfg.FunctionName, &cfg.Code, &cfg.Schema, &ruleKind,
		&cfg.Rule.AffectedAccountID, &status, &cfg.Rule.Function,
		&cfg.Rule.ContractAccountID, &cfg.Rule.Standard, &cfg.Rule.Version, &cfg.Rule.Event,
		&startBlockKind, &startBlockHeight, &cfg.CreatedAtBlockHeight,
		&updatedAtHeight, &deletedAtHeight,
	)
	if err != nil {
		return registrytypes.IndexerConfig{}, err
	}

	cfg.Rule.Kind = registrytypes.RuleKind(ruleKind)
	cfg.Rule.Status = registrytypes.Status(status)
	cfg.StartBlock.Kind = registrytypes.StartBlockKind(startBlockKind)
	if startBlockHeight != nil {
		cfg.StartBlock.Height = *startBlockHeight
	}
	cfg.UpdatedAtBlockHeight = updatedAtHeight
	cfg.DeletedAtBlockHeight = deletedAtHeight
	return cfg, nil
}
