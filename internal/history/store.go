// Package history persists published consensus prices. Durability
// lives here, outside the aggregation core: the scheduler appends
// through the Recorder interface and never reads back.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/lumenrwa/pricefeed/internal/domain"
)

// Recorder is what the scheduler sees: an append-only sink.
type Recorder interface {
	Record(ctx context.Context, consensus domain.ConsensusPrice, canonical []domain.CanonicalQuote, txHash string) error
}

// NopRecorder discards records. Used when no history path is
// configured.
type NopRecorder struct{}

// Record discards the entry.
func (NopRecorder) Record(context.Context, domain.ConsensusPrice, []domain.CanonicalQuote, string) error {
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS consensus_history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol       TEXT    NOT NULL,
	price        REAL    NOT NULL,
	method       TEXT    NOT NULL,
	confidence   REAL    NOT NULL,
	window_start INTEGER NOT NULL,
	window_end   INTEGER NOT NULL,
	computed_at  INTEGER NOT NULL,
	tx_hash      TEXT    NOT NULL DEFAULT '',
	quotes       BLOB    NOT NULL,
	recorded_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consensus_history_symbol_time
	ON consensus_history (symbol, computed_at);
`

// Store is a sqlite-backed Recorder. The canonical quote set behind
// each consensus is stored msgpack-encoded for later audit.
type Store struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open creates (or opens) the history database at path and ensures the
// schema exists.
func Open(path string, log zerolog.Logger) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", absPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &Store{
		conn: conn,
		log:  log.With().Str("component", "history_store").Logger(),
	}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.conn.Close() }

// Record appends one published consensus with its contributing quotes.
func (s *Store) Record(ctx context.Context, consensus domain.ConsensusPrice, canonical []domain.CanonicalQuote, txHash string) error {
	quotes, err := msgpack.Marshal(canonical)
	if err != nil {
		return fmt.Errorf("failed to encode canonical quotes: %w", err)
	}

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO consensus_history
			(symbol, price, method, confidence, window_start, window_end, computed_at, tx_hash, quotes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		consensus.Symbol,
		consensus.Price,
		string(consensus.Method),
		consensus.Confidence,
		consensus.WindowStart,
		consensus.WindowEnd,
		consensus.ComputedAt,
		txHash,
		quotes,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to append consensus history: %w", err)
	}
	return nil
}

// SeriesPoint is one row of a symbol's published price history. The
// debug surface serves these.
type SeriesPoint struct {
	ComputedAt int64   `json:"computed_at"`
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	TxHash     string  `json:"tx_hash,omitempty"`
}

// Series reads back a symbol's published price series, newest first,
// capped at limit rows.
func (s *Store) Series(ctx context.Context, symbol string, limit int) ([]SeriesPoint, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT computed_at, price, confidence, tx_hash
		FROM consensus_history
		WHERE symbol = ?
		ORDER BY computed_at DESC
		LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query consensus history: %w", err)
	}
	defer rows.Close()

	var series []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.ComputedAt, &p.Price, &p.Confidence, &p.TxHash); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		series = append(series, p)
	}
	return series, rows.Err()
}
