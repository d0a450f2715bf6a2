package authpw

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"opsdesk/api/internal/store"
)

type passwordReset struct {
	userID string
	used   bool
}

type fakeUserStore struct {
	usersByEmail map[string]store.User
	created      []store.User
	verified     []string
	passwords    map[string]string
	resets       map[string]*passwordReset
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		usersByEmail: make(map[string]store.User),
		passwords:    make(map[string]string),
		resets:       make(map[string]*passwordReset),
	}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	user, ok := f.usersByEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) CreateUser(_ context.Context, user store.User) error {
	f.created = append(f.created, user)
	f.usersByEmail[user.Email] = user
	return nil
}

func (f *fakeUserStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeUserStore) VerifyUserEmail(_ context.Context, token string) error {
	f.verified = append(f.verified, token)
	return nil
}

func (f *fakeUserStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.passwords[userID] = hash
	return nil
}

func (f *fakeUserStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.resets[token] = &passwordReset{userID: userID}
	return nil
}

func (f *fakeUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	reset, ok := f.resets[token]
	if !ok || reset.used {
		return "", sql.ErrNoRows
	}
	return reset.userID, nil
}

func (f *fakeUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	reset, ok := f.resets[token]
	if !ok {
		return sql.ErrNoRows
	}
	reset.used = true
	return nil
}

func TestSignUpCreatesUnverifiedMember(t *testing.T) {
	fs := newFakeUserStore()
	svc := NewService(fs)

	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "avery@agency.dev",
		Password:    "long-enough-pw",
		DisplayName: "Avery",
		ServiceID:   "svc_1",
	})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if !resp.RequiresEmailVerify || resp.VerificationToken == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(fs.created) != 1 {
		t.Fatalf("created %d users", len(fs.created))
	}
	user := fs.created[0]
	if user.Role != "OPERATION_MEMBER" || user.ServiceID != "svc_1" {
		t.Fatalf("user = %+v", user)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("long-enough-pw")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Email: "a@b.c", Password: "short", DisplayName: "A"}); err == nil {
		t.Fatal("short password accepted")
	}
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Password: "long-enough-pw", DisplayName: "A"}); err == nil {
		t.Fatal("missing email accepted")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	fs := newFakeUserStore()
	fs.usersByEmail["avery@agency.dev"] = store.User{ID: "usr_1", Email: "avery@agency.dev"}
	svc := NewService(fs)
	if _, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       "avery@agency.dev",
		Password:    "long-enough-pw",
		DisplayName: "Avery",
	}); err == nil {
		t.Fatal("duplicate email accepted")
	}
}

func TestSignIn(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("long-enough-pw"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	fs := newFakeUserStore()
	fs.usersByEmail["avery@agency.dev"] = store.User{
		ID:              "usr_1",
		Email:           "avery@agency.dev",
		PasswordHash:    string(hash),
		IsEmailVerified: true,
	}
	svc := NewService(fs)

	resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "avery@agency.dev", Password: "long-enough-pw"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if resp.RequiresVerify || resp.User.ID != "usr_1" {
		t.Fatalf("resp = %+v", resp)
	}

	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "avery@agency.dev", Password: "wrong"}); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "nobody@agency.dev", Password: "long-enough-pw"}); err == nil {
		t.Fatal("unknown email accepted")
	}
}

func TestSignInUnverifiedEmail(t *testing.T) {
	fs := newFakeUserStore()
	fs.usersByEmail["new@agency.dev"] = store.User{ID: "usr_2", Email: "new@agency.dev"}
	svc := NewService(fs)

	resp, err := svc.SignIn(context.Background(), SignInRequest{Email: "new@agency.dev", Password: "whatever-pw"})
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !resp.RequiresVerify {
		t.Fatal("expected RequiresVerify")
	}
}

func TestSignInDeactivated(t *testing.T) {
	now := time.Now()
	fs := newFakeUserStore()
	fs.usersByEmail["gone@agency.dev"] = store.User{ID: "usr_3", Email: "gone@agency.dev", DeactivatedAt: &now, IsEmailVerified: true}
	svc := NewService(fs)
	if _, err := svc.SignIn(context.Background(), SignInRequest{Email: "gone@agency.dev", Password: "whatever-pw"}); err == nil {
		t.Fatal("deactivated account accepted")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	fs := newFakeUserStore()
	fs.usersByEmail["avery@agency.dev"] = store.User{ID: "usr_1", Email: "avery@agency.dev", IsEmailVerified: true}
	svc := NewService(fs)
	ctx := context.Background()

	token, err := svc.RequestPasswordReset(ctx, "avery@agency.dev")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "brand-new-pw"}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	stored := fs.passwords["usr_1"]
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte("brand-new-pw")); err != nil {
		t.Fatalf("new hash mismatch: %v", err)
	}

	// A token is single use.
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another-new-pw"}); err == nil {
		t.Fatal("used token accepted")
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())

	// No error and no token, so callers cannot probe for accounts.
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@agency.dev")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if token != "" {
		t.Fatalf("token = %q, want empty", token)
	}
}

func TestResetPasswordValidation(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "", NewPassword: "long-enough-pw"}); err == nil {
		t.Fatal("missing token accepted")
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "tok", NewPassword: "short"}); err == nil {
		t.Fatal("short password accepted")
	}
	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "unknown", NewPassword: "long-enough-pw"}); err == nil {
		t.Fatal("unknown token accepted")
	}
}

func TestChangePassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	fs := newFakeUserStore()
	fs.usersByEmail["avery@agency.dev"] = store.User{ID: "usr_1", Email: "avery@agency.dev", PasswordHash: string(hash), IsEmailVerified: true}
	svc := NewService(fs)

	if err := svc.ChangePassword(context.Background(), "avery@agency.dev", "old-password", "new-password-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	stored := fs.passwords["usr_1"]
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte("new-password-1")); err != nil {
		t.Fatalf("new hash mismatch: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), "avery@agency.dev", "wrong", "new-password-2"); err == nil {
		t.Fatal("wrong current password accepted")
	}
}
