package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/medprep/qbank/internal/auth"
)

type initRecorder struct {
	mu    sync.Mutex
	users []string
}

func (r *initRecorder) EnsureUser(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, username)
	return nil
}

func TestRegister_ValidationTable(t *testing.T) {
	cases := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{"valid", "alice_1", "pass", false},
		{"uppercase normalized", "Alice_1x", "pass", false},
		{"too short username", "ab", "pass", true},
		{"illegal characters", "al!ce", "pass", true},
		{"spaces inside", "al ce", "pass", true},
		{"short password", "alice2", "abc", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := auth.NewMemoryRegistry(nil)
			_, err := r.Register(context.Background(), c.username, c.password)
			if c.wantErr {
				var verr *auth.ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("Register(%q, %q) error = %v, want ValidationError", c.username, c.password, err)
				}
				return
			}
			if err != nil {
				t.Errorf("Register(%q, %q) error = %v", c.username, c.password, err)
			}
		})
	}
}

func TestRegister_LowercasesAndInitializes(t *testing.T) {
	ctx := context.Background()
	rec := &initRecorder{}
	r := auth.NewMemoryRegistry(rec)

	token, err := r.Register(ctx, "MedStudent", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	user, err := r.UserForToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if user != "medstudent" {
		t.Errorf("UserForToken = %q, want lowercased username", user)
	}
	if len(rec.users) != 1 || rec.users[0] != "medstudent" {
		t.Errorf("initializer saw %v", rec.users)
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	ctx := context.Background()
	r := auth.NewMemoryRegistry(nil)
	if _, err := r.Register(ctx, "alice", "pass"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(ctx, "ALICE", "other"); !errors.Is(err, auth.ErrUserExists) {
		t.Errorf("error = %v, want ErrUserExists", err)
	}
}

func TestLogin_RotatesToken(t *testing.T) {
	ctx := context.Background()
	r := auth.NewMemoryRegistry(nil)
	first, err := r.Register(ctx, "alice", "pass")
	if err != nil {
		t.Fatal(err)
	}

	second, err := r.Login(ctx, "alice", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("login must issue a fresh token")
	}
	if _, err := r.UserForToken(ctx, first); !errors.Is(err, auth.ErrInvalidToken) {
		t.Error("old token must be revoked after login")
	}
	if user, err := r.UserForToken(ctx, second); err != nil || user != "alice" {
		t.Errorf("UserForToken(new) = %q, %v", user, err)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	ctx := context.Background()
	r := auth.NewMemoryRegistry(nil)
	if _, err := r.Register(ctx, "alice", "pass"); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Login(ctx, "alice", "wrong"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v", err)
	}
	if _, err := r.Login(ctx, "nobody", "pass"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v", err)
	}
}

func TestUserForToken_Empty(t *testing.T) {
	r := auth.NewMemoryRegistry(nil)
	if _, err := r.UserForToken(context.Background(), ""); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}
