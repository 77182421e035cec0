// Package store backs the voice tools with Postgres: dealer lookup,
// product lookup, and appointment booking.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrNotFound  = errors.New("store: not found")
	ErrSlotTaken = errors.New("store: slot already booked")
)

type Dealer struct {
	ID      int64
	Name    string
	Address string
	Phone   string
	Hours   string
}

type Product struct {
	ID          int64
	Name        string
	Description string
	Price       float64
	Stock       int
}

type Slot struct {
	Dealer   string
	StartsAt time.Time
}

type Appointment struct {
	ID            string
	Dealer        string
	StartsAt      time.Time
	CustomerName  string
	CustomerPhone string
}

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, runs pending migrations, and verifies the pool.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("store: empty dsn")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := migrate(dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("store: open for migrate: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) DealerByName(ctx context.Context, name string) (*Dealer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, address, phone, hours
		   FROM dealers
		  WHERE name ILIKE '%' || $1 || '%'
		  ORDER BY name
		  LIMIT 1`, name)

	var d Dealer
	err := row.Scan(&d.ID, &d.Name, &d.Address, &d.Phone, &d.Hours)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: dealer by name: %w", err)
	}
	return &d, nil
}

func (s *Store) ProductByName(ctx context.Context, name string) (*Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, description, price, stock
		   FROM products
		  WHERE name ILIKE '%' || $1 || '%'
		  ORDER BY name
		  LIMIT 1`, name)

	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: product by name: %w", err)
	}
	return &p, nil
}

// OpenSlots lists upcoming unbooked appointment slots for a dealer. A
// non-zero day restricts the listing to that calendar date.
func (s *Store) OpenSlots(ctx context.Context, dealerName string, day time.Time, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 5
	}
	var dayArg any
	if !day.IsZero() {
		dayArg = day
	}
	rows, err := s.pool.Query(ctx,
		`SELECT d.name, s.starts_at
		   FROM appointment_slots s
		   JOIN dealers d ON d.id = s.dealer_id
		  WHERE d.name ILIKE '%' || $1 || '%'
		    AND NOT s.booked
		    AND s.starts_at > now()
		    AND ($2::date IS NULL OR s.starts_at::date = $2::date)
		  ORDER BY s.starts_at
		  LIMIT $3`, dealerName, dayArg, limit)
	if err != nil {
		return nil, fmt.Errorf("store: open slots: %w", err)
	}
	defer rows.Close()

	var slots []Slot
	for rows.Next() {
		var sl Slot
		if err := rows.Scan(&sl.Dealer, &sl.StartsAt); err != nil {
			return nil, fmt.Errorf("store: scan slot: %w", err)
		}
		slots = append(slots, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: open slots: %w", err)
	}
	return slots, nil
}

// BookAppointment claims a slot and records the appointment in one
// transaction. A slot that was taken in the meantime yields ErrSlotTaken.
func (s *Store) BookAppointment(ctx context.Context, dealerName string, startsAt time.Time, customerName, customerPhone string) (*Appointment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var dealerID int64
	var dealer string
	err = tx.QueryRow(ctx,
		`SELECT id, name FROM dealers WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT 1`,
		dealerName).Scan(&dealerID, &dealer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: dealer lookup: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE appointment_slots
		    SET booked = true
		  WHERE dealer_id = $1 AND starts_at = $2 AND NOT booked`,
		dealerID, startsAt)
	if err != nil {
		return nil, fmt.Errorf("store: claim slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrSlotTaken
	}

	appt := Appointment{
		ID:            uuid.NewString(),
		Dealer:        dealer,
		StartsAt:      startsAt,
		CustomerName:  customerName,
		CustomerPhone: customerPhone,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO appointments (id, dealer_id, starts_at, customer_name, customer_phone)
		 VALUES ($1, $2, $3, $4, $5)`,
		appt.ID, dealerID, appt.StartsAt, appt.CustomerName, appt.CustomerPhone)
	if err != nil {
		return nil, fmt.Errorf("store: insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	s.logger.Info("appointment booked", "id", appt.ID, "dealer", dealer, "starts_at", appt.StartsAt)
	return &appt, nil
}
