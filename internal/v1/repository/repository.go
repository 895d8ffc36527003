// Package repository defines the storage-backed side of external
// adapters (C6): resolving a session to a user and a ProblemsFilter to
// the problems a room should be seeded with. Persistent storage itself
// is out of scope (spec.md Non-goals); this package only defines the
// interface so the HTTP layer and its middleware have something
// concrete to call, plus an in-memory implementation for tests and
// local development.
package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/giilbert/radix/internal/v1/apperr"
	"github.com/giilbert/radix/internal/v1/domain"
)

// ProblemsFilterTag enumerates the ProblemsFilter tagged-union variants
// accepted by POST /room, per spec.md §6.
type ProblemsFilterTag string

const ProblemsFilterSingle ProblemsFilterTag = "Single"

// ProblemsFilter selects which problems a room is seeded with. Currently
// one variant: Single, naming one problem by ID.
type ProblemsFilter struct {
	Tag ProblemsFilterTag `json:"t"`
	C   struct {
		ID domain.ProblemIDType `json:"id"`
	} `json:"c"`
}

// UserRepository resolves an authenticated session to the user record
// the room runtime operates on.
type UserRepository interface {
	GetUserBySession(ctx context.Context, userID domain.UserIDType) (domain.User, error)
}

// ProblemRepository owns problem CRUD and filter resolution.
type ProblemRepository interface {
	GetProblemsByFilter(ctx context.Context, filters []ProblemsFilter) ([]domain.Problem, error)
	GetProblem(ctx context.Context, id domain.ProblemIDType) (domain.Problem, error)
	CreateProblem(ctx context.Context, problem domain.Problem) (domain.Problem, error)
	UpdateProblem(ctx context.Context, problem domain.Problem) (domain.Problem, error)
	DeleteProblem(ctx context.Context, id domain.ProblemIDType) error
	ListProblems(ctx context.Context) ([]domain.Problem, error)
}

// InMemory backs both UserRepository and ProblemRepository with
// process-local maps, guarded by one mutex. Suitable for tests and
// local development; a DATABASE_URL-driven implementation is the
// production seam this interface leaves open.
type InMemory struct {
	mu       sync.RWMutex
	users    map[domain.UserIDType]domain.User
	problems map[domain.ProblemIDType]domain.Problem
}

// NewInMemory builds an empty in-memory repository.
func NewInMemory() *InMemory {
	return &InMemory{
		users:    make(map[domain.UserIDType]domain.User),
		problems: make(map[domain.ProblemIDType]domain.Problem),
	}
}

// PutUser seeds or updates a user record, e.g. from a validated JWT's
// claims on first sight.
func (m *InMemory) PutUser(user domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *InMemory) GetUserBySession(ctx context.Context, userID domain.UserIDType) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	if !ok {
		return domain.User{}, apperr.NotFound("user not found")
	}
	return user, nil
}

func (m *InMemory) GetProblemsByFilter(ctx context.Context, filters []ProblemsFilter) ([]domain.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Problem, 0, len(filters))
	for _, f := range filters {
		switch f.Tag {
		case ProblemsFilterSingle:
			p, ok := m.problems[f.C.ID]
			if !ok {
				return nil, apperr.NotFound(fmt.Sprintf("problem %q not found", f.C.ID))
			}
			out = append(out, p)
		default:
			return nil, apperr.Validation(fmt.Sprintf("unknown problems filter %q", f.Tag))
		}
	}
	return out, nil
}

func (m *InMemory) GetProblem(ctx context.Context, id domain.ProblemIDType) (domain.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.problems[id]
	if !ok {
		return domain.Problem{}, apperr.NotFound(fmt.Sprintf("problem %q not found", id))
	}
	return p, nil
}

func (m *InMemory) CreateProblem(ctx context.Context, problem domain.Problem) (domain.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.problems[problem.ID]; exists {
		return domain.Problem{}, apperr.Conflict(fmt.Sprintf("problem %q already exists", problem.ID))
	}
	m.problems[problem.ID] = problem
	return problem, nil
}

func (m *InMemory) UpdateProblem(ctx context.Context, problem domain.Problem) (domain.Problem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.problems[problem.ID]; !exists {
		return domain.Problem{}, apperr.NotFound(fmt.Sprintf("problem %q not found", problem.ID))
	}
	m.problems[problem.ID] = problem
	return problem, nil
}

func (m *InMemory) DeleteProblem(ctx context.Context, id domain.ProblemIDType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.problems[id]; !exists {
		return apperr.NotFound(fmt.Sprintf("problem %q not found", id))
	}
	delete(m.problems, id)
	return nil
}

func (m *InMemory) ListProblems(ctx context.Context) ([]domain.Problem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Problem, 0, len(m.problems))
	for _, p := range m.problems {
		out = append(out, p)
	}
	return out, nil
}
