package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/idtoken"

	"github.com/ahlallah/ahl-allah-server/internal/config"
	"github.com/ahlallah/ahl-allah-server/internal/model"
)

// ErrNoIdentifier is returned when a provider response carries no subject.
var ErrNoIdentifier = errors.New("oauth: provider profile missing identifier")

// Google runs the authorization code flow against Google and reads the
// identity from the verified id_token.
type Google struct {
	conf *oauth2.Config
	// validate checks an id_token's signature and audience.
	validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// NewGoogle builds the Google flow from its client settings.
func NewGoogle(cfg config.GoogleConfig) *Google {
	return &Google{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "profile", "email"},
		},
		validate: idtoken.Validate,
	}
}

// AuthURL is where the browser is sent to start sign in.
func (g *Google) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state)
}

// Exchange trades the callback code for tokens and returns the identity in
// the id_token.
func (g *Google) Exchange(ctx context.Context, code string) (model.FederatedIdentity, error) {
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return model.FederatedIdentity{}, fmt.Errorf("google exchange: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return model.FederatedIdentity{}, errors.New("google exchange: no id_token in response")
	}
	payload, err := g.validate(ctx, raw, g.conf.ClientID)
	if err != nil {
		return model.FederatedIdentity{}, fmt.Errorf("google id_token: %w", err)
	}
	if payload.Subject == "" {
		return model.FederatedIdentity{}, ErrNoIdentifier
	}
	id := model.FederatedIdentity{Provider: "google", ProviderID: payload.Subject}
	id.Email, _ = payload.Claims["email"].(string)
	id.Name, _ = payload.Claims["name"].(string)
	id.Avatar, _ = payload.Claims["picture"].(string)
	if id.Name == "" {
		given, _ := payload.Claims["given_name"].(string)
		family, _ := payload.Claims["family_name"].(string)
		id.Name = joinName(given, family)
	}
	return id, nil
}

func joinName(given, family string) string {
	switch {
	case given != "" && family != "":
		return given + " " + family
	case given != "":
		return given
	}
	return family
}
