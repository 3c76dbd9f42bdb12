package auth

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type memoryAccount struct {
	passwordHash []byte
	token        string
}

// MemoryRegistry is an in-memory Registry for tests and single-user local
// setups.
type MemoryRegistry struct {
	init UserDataInitializer

	mu       sync.Mutex
	accounts map[string]*memoryAccount
	tokens   map[string]string
}

// NewMemoryRegistry creates an empty in-memory registry. init may be nil.
func NewMemoryRegistry(init UserDataInitializer) *MemoryRegistry {
	return &MemoryRegistry{
		init:     init,
		accounts: make(map[string]*memoryAccount),
		tokens:   make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, username, password string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", err
	}
	if err := validatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if _, taken := r.accounts[username]; taken {
		r.mu.Unlock()
		return "", ErrUserExists
	}
	token := newToken()
	r.accounts[username] = &memoryAccount{passwordHash: hash, token: token}
	r.tokens[token] = username
	r.mu.Unlock()

	if r.init != nil {
		if err := r.init.EnsureUser(ctx, username); err != nil {
			return "", err
		}
	}
	return token, nil
}

func (r *MemoryRegistry) Login(_ context.Context, username, password string) (string, error) {
	username, err := normalizeUsername(username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[username]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	delete(r.tokens, acct.token)
	acct.token = newToken()
	r.tokens[acct.token] = username
	return acct.token, nil
}

func (r *MemoryRegistry) UserForToken(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	username, ok := r.tokens[token]
	if !ok || token == "" {
		return "", ErrInvalidToken
	}
	return username, nil
}
