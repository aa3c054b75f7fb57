package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/model"
)

const (
	appleIssuer  = "https://appleid.apple.com"
	appleKeysURL = "https://appleid.apple.com/auth/keys"
)

// Apple runs Sign in with Apple.  The callback is a form_post carrying
// the code, usually the id_token, and on first consent a "user" JSON blob
// with the name.
type Apple struct {
	cfg     config.AppleConfig
	conf    *oauth2.Config
	keysURL string
	client  *http.Client
	keys    *gocache.Cache
	now     func() time.Time
}

// NewApple builds the Apple flow from its service settings.
func NewApple(cfg config.AppleConfig) *Apple {
	return &Apple{
		cfg: cfg,
		conf: &oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.CallbackURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.Apple.AuthURL,
				TokenURL:  endpoints.Apple.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{"name", "email"},
		},
		keysURL: appleKeysURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		keys:    gocache.New(time.Hour, 2*time.Hour),
		now:     time.Now,
	}
}

// AuthURL is where the browser is sent to start sign in.
func (a *Apple) AuthURL(state string) string {
	return a.conf.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "code id_token"),
		oauth2.SetAuthURLParam("response_mode", "form_post"))
}

// CallbackForm is the form Apple posts to the callback URL.
type CallbackForm struct {
	Code    string `form:"code"`
	IDToken string `form:"id_token"`
	State   string `form:"state"`
	User    string `form:"user"`
	Error   string `form:"error"`
}

type appleUser struct {
	Name struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"name"`
	Email string `json:"email"`
}

// Exchange verifies the callback and returns the identity.  When the form
// carries no id_token the code is redeemed for one.
func (a *Apple) Exchange(ctx context.Context, form CallbackForm) (model.FederatedIdentity, error) {
	raw := form.IDToken
	if raw == "" {
		if form.Code == "" {
			return model.FederatedIdentity{}, errors.New("apple callback: no code")
		}
		secret, err := a.clientSecret()
		if err != nil {
			return model.FederatedIdentity{}, err
		}
		tok, err := a.conf.Exchange(ctx, form.Code, oauth2.SetAuthURLParam("client_secret", secret))
		if err != nil {
			return model.FederatedIdentity{}, fmt.Errorf("apple exchange: %w", err)
		}
		raw, _ = tok.Extra("id_token").(string)
	}
	claims, err := a.verify(ctx, raw)
	if err != nil {
		return model.FederatedIdentity{}, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return model.FederatedIdentity{}, ErrNoIdentifier
	}
	id := model.FederatedIdentity{Provider: "apple", ProviderID: sub}
	id.Email, _ = claims["email"].(string)
	if form.User != "" {
		var u appleUser
		if json.Unmarshal([]byte(form.User), &u) == nil {
			id.Name = joinName(u.Name.FirstName, u.Name.LastName)
			if id.Email == "" {
				id.Email = u.Email
			}
		}
	}
	return id, nil
}

// clientSecret is the ES256 JWT Apple accepts in place of a static secret.
func (a *Apple) clientSecret() (string, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(strings.ReplaceAll(a.cfg.PrivateKey, `\n`, "\n")))
	if err != nil {
		return "", fmt.Errorf("apple private key: %w", err)
	}
	now := a.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    a.cfg.TeamID,
		Subject:   a.cfg.ClientID,
		Audience:  jwt.ClaimStrings{appleIssuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	})
	tok.Header["kid"] = a.cfg.KeyID
	return tok.SignedString(key)
}

func (a *Apple) verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return a.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(a.cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("apple id_token: %w", err)
	}
	return claims, nil
}

type jwkSet struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// key returns Apple's signing key for kid, refreshing the cached set once
// on a miss.
func (a *Apple) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := a.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.keysURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apple keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apple keys: status %d", resp.StatusCode)
	}
	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("apple keys: %w", err)
	}
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err1 := base64.RawURLEncoding.DecodeString(k.N)
		e, err2 := base64.RawURLEncoding.DecodeString(k.E)
		if err1 != nil || err2 != nil {
			continue
		}
		pub := &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
		a.keys.SetDefault(k.Kid, pub)
	}
	if k, ok := a.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	return nil, fmt.Errorf("apple keys: unknown kid %q", kid)
}
