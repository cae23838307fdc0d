package service

import (
	"context"
	"errors"
	"testing"

	"guptaai/pkg/token"
)

func newUserFixture() (UserService, *fakeBlacklist, *token.JWTManager) {
	bl := &fakeBlacklist{}
	jwt := token.NewJWTManager("secret", 1, 7)
	return NewUserService(newFakeUserRepo(), bl, jwt, []string{"Admin@Gupta.ai"}), bl, jwt
}

func TestSignupAndLogin(t *testing.T) {
	svc, _, jwt := newUserFixture()

	res, err := svc.Signup("Gede", " Gede@Example.com ", "rahasia")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if res.User.Email != "gede@example.com" || res.User.Role != RoleUser {
		t.Errorf("user = %+v", res.User)
	}
	if res.User.Password == "rahasia" {
		t.Error("password must be stored hashed")
	}

	login, err := svc.Login("gede@example.com", "rahasia")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := jwt.VerifyToken(login.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Email != "gede@example.com" || claims.Name != "Gede" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestSignupErrors(t *testing.T) {
	svc, _, _ := newUserFixture()
	if _, err := svc.Signup("A", "a@x.com", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	tests := []struct {
		name, user, email, password string
		want                        error
	}{
		{"duplicate", "A", "A@X.com", "pw", ErrAlreadyRegistered},
		{"missing name", "", "b@x.com", "pw", ErrMissingFields},
		{"missing password", "B", "b@x.com", "", ErrMissingFields},
		{"guest is reserved", "G", "guest", "pw", ErrInvalidEmail},
		{"not an email", "C", "nobody", "pw", ErrInvalidEmail},
		{"glob star", "D", "a*@x.com", "pw", ErrInvalidEmail},
		{"glob class", "D", "a[b]@x.com", "pw", ErrInvalidEmail},
		{"glob single", "D", "a?@x.com", "pw", ErrInvalidEmail},
		{"backslash", "D", `a\@x.com`, "pw", ErrInvalidEmail},
		{"key separator", "D", "a:b@x.com", "pw", ErrInvalidEmail},
		{"device guest", "D", "guest#a@x.com", "pw", ErrInvalidEmail},
		{"two at signs", "D", "a@b@x.com", "pw", ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Signup(tt.user, tt.email, tt.password); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoginErrors(t *testing.T) {
	svc, _, _ := newUserFixture()
	_, _ = svc.Signup("A", "a@x.com", "pw")

	if _, err := svc.Login("missing@x.com", "pw"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("unknown email: err = %v", err)
	}
	if _, err := svc.Login("a@x.com", "salah"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := svc.Login("", "pw"); !errors.Is(err, ErrMissingFields) {
		t.Errorf("missing email: err = %v", err)
	}
}

func TestAdminEmailGetsAdminRole(t *testing.T) {
	svc, _, _ := newUserFixture()
	res, err := svc.Signup("Root", "admin@gupta.ai", "pw")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if res.User.Role != RoleAdmin {
		t.Errorf("role = %q, want ADMIN", res.User.Role)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	svc, bl, _ := newUserFixture()
	res, _ := svc.Signup("A", "a@x.com", "pw")

	access, refresh, err := svc.RefreshToken(res.RefreshToken)
	if err != nil || access == "" || refresh == "" {
		t.Fatalf("RefreshToken: %v", err)
	}
	if _, _, err := svc.RefreshToken(res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access token used as refresh: err = %v", err)
	}

	if err := svc.Logout(context.Background(), access); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if ok, _ := bl.Contains(context.Background(), access); !ok {
		t.Error("logged-out token should be blacklisted")
	}
	if err := svc.Logout(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("logout garbage: err = %v", err)
	}
}
