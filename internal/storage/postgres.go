package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type PostgresClient struct {
	db *sql.DB
}

// HistoryRecord is one persisted position of a tracked order.
type HistoryRecord struct {
	ID         int64     `json:"id"`
	OrderID    int64     `json:"orderId"`
	UserID     int64     `json:"userId"`
	UserType   string    `json:"userType"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Geohash    string    `json:"geohash"`
	RecordedAt time.Time `json:"recordedAt"`
}

func NewPostgresClient(connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &PostgresClient{db: db}

	// Initialize schema
	if err := client.initSchema(); err != nil {
		return nil, err
	}

	return client, nil
}

func (p *PostgresClient) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS location_history (
		id SERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		user_type VARCHAR(16),
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		geohash VARCHAR(12),
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_location_history_order ON location_history (order_id, recorded_at DESC);
	`

	_, err := p.db.Exec(schema)
	return err
}

func (p *PostgresClient) Close() error {
	return p.db.Close()
}

func (p *PostgresClient) SaveLocation(ctx context.Context, rec HistoryRecord) error {
	query := `
		INSERT INTO location_history (order_id, user_id, user_type, latitude, longitude, geohash, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := p.db.ExecContext(ctx, query,
		rec.OrderID, rec.UserID, rec.UserType, rec.Latitude, rec.Longitude, rec.Geohash, rec.RecordedAt)
	return err
}

// LastLocation returns the newest record for the order, or nil when there is none.
func (p *PostgresClient) LastLocation(ctx context.Context, orderID int64) (*HistoryRecord, error) {
	query := `
		SELECT id, order_id, user_id, user_type, latitude, longitude, geohash, recorded_at
		FROM location_history
		WHERE order_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	var rec HistoryRecord
	err := p.db.QueryRowContext(ctx, query, orderID).Scan(
		&rec.ID, &rec.OrderID, &rec.UserID, &rec.UserType,
		&rec.Latitude, &rec.Longitude, &rec.Geohash, &rec.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (p *PostgresClient) History(ctx context.Context, orderID int64, since time.Time) ([]HistoryRecord, error) {
	query := `
		SELECT id, order_id, user_id, user_type, latitude, longitude, geohash, recorded_at
		FROM location_history
		WHERE order_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC
	`

	rows, err := p.db.QueryContext(ctx, query, orderID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.UserID,
			&rec.UserType,
			&rec.Latitude,
			&rec.Longitude,
			&rec.Geohash,
			&rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
