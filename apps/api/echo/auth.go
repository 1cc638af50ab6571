package echoapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

var (
	contextAccountKey  = "account"
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

// Claims represents the authorization claims transmitted via an access JWT.
type Claims struct {
	jwt.StandardClaims
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	Status      string `json:"status,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
}

// RefreshClaims carries the identity only. The token value itself is also
// persisted on the account so a rotated-out token can no longer be replayed.
type RefreshClaims struct {
	jwt.StandardClaims
	Refresh bool `json:"refresh"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func GetAccountClaims(acct account.Account) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   acct.ID,
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username:    acct.Username,
		Email:       acct.Email,
		Role:        acct.Role,
		Status:      acct.Status,
		PrincipalID: acct.PrincipalID,
	}
}

func getRefreshClaims(acct account.Account) *RefreshClaims {
	now := time.Now()
	return &RefreshClaims{
		StandardClaims: jwt.StandardClaims{
			// a unique Id keeps tokens issued within the same second distinct,
			// so rotation always invalidates the previous one
			Id:        uuid.New().String(),
			Issuer:    core.Conf.AppName,
			Subject:   acct.ID,
			ExpiresAt: now.Add(core.Conf.Server.JWTRefreshExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Refresh: true,
	}
}

// GenerateToken generates a signed JWT token string representing the claims.
func GenerateToken(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(core.Conf.SecretKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// generateTokenPair issues a fresh access/refresh pair and persists the new
// refresh token on the account, rotating out any previously issued one.
func generateTokenPair(ctx context.Context, acct account.Account, svc account.Service) (TokenPair, error) {
	access, err := GenerateToken(GetAccountClaims(acct))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := GenerateToken(getRefreshClaims(acct))
	if err != nil {
		return TokenPair{}, err
	}
	if _, err = svc.SetRefreshToken(ctx, acct, refresh); err != nil {
		return TokenPair{}, errors.Wrap(err, "persisting refresh token")
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func parseToken(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return core.Conf.SecretKey, nil
	})
	if err != nil {
		if vErr, ok := err.(*jwt.ValidationError); ok && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return errTokenExpired
		}
		return errUnauthorized
	}
	if !parsed.Valid {
		return errUnauthorized
	}
	return nil
}

// extractToken looks for the access credential in the Authorization header,
// then falls back to the auth cookie.
func extractToken(ctx echo.Context) (string, error) {
	if auth := ctx.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return auth[len("Bearer "):], nil
		}
		return "", errUnauthorized
	}
	if cookie, err := ctx.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errUnauthorized
}

func getContextAccount(ctx echo.Context) (account.Account, error) {
	if acct, ok := ctx.Get(contextAccountKey).(account.Account); ok {
		return acct, nil
	}
	return account.Account{}, errUnauthorized
}

// refreshTokenPair validates a presented refresh token against both its
// signature and the server-side copy, then rotates the pair.
func refreshTokenPair(ctx echo.Context, token string, svc account.Service) (TokenPair, error) {
	claims := new(RefreshClaims)
	if err := parseToken(token, claims); err != nil {
		return TokenPair{}, err
	}
	if !claims.Refresh {
		return TokenPair{}, errUnauthorized
	}

	acct, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == account.ErrNotFound {
			return TokenPair{}, errUnauthorized
		}
		return TokenPair{}, errors.Wrap(err, "finding account by ID")
	}

	// a rotated-out or revoked token no longer matches the stored copy
	if acct.RefreshToken == "" || acct.RefreshToken != token {
		return TokenPair{}, errUnauthorized
	}

	if err = svc.CheckAccess(ctx.Request().Context(), acct); err != nil {
		return TokenPair{}, trapAccessDeniedErr(err)
	}

	return generateTokenPair(ctx.Request().Context(), acct, svc)
}

func setAuthCookies(ctx echo.Context, pair TokenPair) {
	ctx.SetCookie(&http.Cookie{
		Name:     accessTokenCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		Expires:  time.Now().Add(core.Conf.Server.JWTExpirationDelta),
		HttpOnly: true,
	})
	ctx.SetCookie(&http.Cookie{
		Name:     refreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		Expires:  time.Now().Add(core.Conf.Server.JWTRefreshExpirationDelta),
		HttpOnly: true,
	})
}

func clearAuthCookies(ctx echo.Context) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		ctx.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
		})
	}
}
