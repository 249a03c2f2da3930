package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MemoryProvider keeps identities in process.  It backs IDP_MODE=memory
// for local development.  Credentials are stored as bcrypt hashes the way
// a real provider would keep them.
type MemoryProvider struct {
	mu    sync.RWMutex
	users map[string]*Record
	cost  int
}

// Record is the remote half of an account as held by MemoryProvider.
type Record struct {
	Ref          string
	Email        string
	DisplayName  string
	PasswordHash string
}

// NewMemoryProvider returns an empty provider.  cost <= 0 selects
// bcrypt.DefaultCost.
func NewMemoryProvider(cost int) *MemoryProvider {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &MemoryProvider{users: map[string]*Record{}, cost: cost}
}

func (p *MemoryProvider) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: "create", Err: err}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", &Error{Op: "create", Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.emailTaken(email, "") {
		return "", &Error{Op: "create", Status: 409, Err: ErrConflict}
	}
	ref := "mem|" + uuid.NewString()
	p.users[ref] = &Record{Ref: ref, Email: email, DisplayName: displayName, PasswordHash: string(hash)}
	return ref, nil
}

func (p *MemoryProvider) UpdateIdentity(ctx context.Context, ref string, f Fields) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "update", Err: err}
	}
	var hash []byte
	if f.Password != nil {
		h, err := bcrypt.GenerateFromPassword([]byte(*f.Password), p.cost)
		if err != nil {
			return &Error{Op: "update", Err: err}
		}
		hash = h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[ref]
	if !ok {
		return &Error{Op: "update", Status: 404, Err: ErrNotFound}
	}
	if f.Email != nil {
		if p.emailTaken(*f.Email, ref) {
			return &Error{Op: "update", Status: 409, Err: ErrConflict}
		}
		u.Email = *f.Email
	}
	if f.DisplayName != nil {
		u.DisplayName = *f.DisplayName
	}
	if hash != nil {
		u.PasswordHash = string(hash)
	}
	return nil
}

// DeleteIdentity is idempotent, like HTTPProvider.DeleteIdentity.
func (p *MemoryProvider) DeleteIdentity(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "delete", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, ref)
	return nil
}

// Lookup returns a copy of the record for ref.
func (p *MemoryProvider) Lookup(ref string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[ref]
	if !ok {
		return Record{}, false
	}
	return *u, true
}

// CheckPassword reports whether password matches the stored credential.
func (p *MemoryProvider) CheckPassword(ref, password string) bool {
	u, ok := p.Lookup(ref)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Len returns the number of stored identities.
func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

// emailTaken must be called with mu held.
func (p *MemoryProvider) emailTaken(email, exceptRef string) bool {
	for ref, u := range p.users {
		if ref != exceptRef && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}
