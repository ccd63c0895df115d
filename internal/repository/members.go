package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

// PostgresMembers reads the member registry table maintained by the membership module.
type PostgresMembers struct {
	db *sql.DB
}

func NewPostgresMembers(db *sql.DB) *PostgresMembers {
	return &PostgresMembers{db: db}
}

// Member retrieves a member by id
func (r *PostgresMembers) Member(ctx context.Context, id string) (models.Member, error) {
	var m models.Member
	query := `
		SELECT id, name, email, status
		FROM sacco.members
		WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Name, &m.Email, &m.Status)
	if err == sql.ErrNoRows {
		return models.Member{}, apperr.NotFound("member %s not found", id)
	}
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to find member: %w", err)
	}
	return m, nil
}

// MemoryMembers is an in-process member registry.
type MemoryMembers struct {
	mu      sync.RWMutex
	members map[string]models.Member
}

func NewMemoryMembers(members ...models.Member) *MemoryMembers {
	r := &MemoryMembers{members: make(map[string]models.Member)}
	for _, m := range members {
		r.members[m.ID] = m
	}
	return r
}

func (r *MemoryMembers) Put(m models.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[m.ID] = m
}

func (r *MemoryMembers) Member(_ context.Context, id string) (models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	if !ok {
		return models.Member{}, apperr.NotFound("member %s not found", id)
	}
	return m, nil
}
