package pg

import "github.com/jackc/pgx/v5/pgxpool"

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
