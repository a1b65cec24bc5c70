package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/ledger-sync/internal/domain"
)

const securityColumns = `id, ticker, exchange_mic, name, created_at`

type SecurityRepository struct {
	db *sql.DB
}

func NewSecurityRepository(db *sql.DB) *SecurityRepository {
	return &SecurityRepository{db: db}
}

func (r *SecurityRepository) GetByID(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Security, error) {
	s, err := scanSecurity(tx.QueryRowContext(ctx,
		`SELECT `+securityColumns+` FROM securities WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrSecurityNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return s, nil
}

// FindOrCreate resolves a security by ticker and exchange, inserting it when
// unknown. Concurrent callers converge on the same row.
func (r *SecurityRepository) FindOrCreate(ctx context.Context, tx *sql.Tx, ticker, exchangeMIC string, name *string) (*domain.Security, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("FindOrCreate: %w", domain.ErrMissingSecurity)
	}
	s, err := scanSecurity(tx.QueryRowContext(ctx,
		`INSERT INTO securities (id, ticker, exchange_mic, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticker, exchange_mic) DO UPDATE SET name = COALESCE(securities.name, EXCLUDED.name)
		RETURNING `+securityColumns,
		uuid.New(), ticker, strings.ToUpper(exchangeMIC), name, time.Now().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("FindOrCreate: %w", err)
	}
	return s, nil
}

func scanSecurity(s scanner) (*domain.Security, error) {
	var sec domain.Security
	if err := s.Scan(&sec.ID, &sec.Ticker, &sec.ExchangeMIC, &sec.Name, &sec.CreatedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}
