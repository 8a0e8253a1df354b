package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vyrodovalexey/avagate/internal/auth"
	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/gateway"
	"github.com/vyrodovalexey/avagate/internal/observability"
	"github.com/vyrodovalexey/avagate/internal/secrets"
)

var (
	errNoAuth    = errors.New("configuration has no auth section")
	errNoSubject = errors.New("-subject is required")
)

// issueToken signs a token with the configured secret and writes it to w.
func issueToken(ctx context.Context, cfg *config.GatewayConfig, flags cliFlags, w io.Writer) error {
	if flags.subject == "" {
		return errNoSubject
	}

	secret, err := signingSecret(ctx, cfg)
	if err != nil {
		return err
	}

	signer, err := auth.NewSigner(auth.Config{
		Secret: secret,
		Issuer: cfg.Spec.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	token, err := signer.Issue(flags.subject, splitScopes(flags.scopes), flags.ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, token)
	return err
}

// signingSecret returns the inline secret or resolves the secret reference.
func signingSecret(ctx context.Context, cfg *config.GatewayConfig) ([]byte, error) {
	a := cfg.Spec.Auth
	if a == nil {
		return nil, errNoAuth
	}
	if a.SecretRef == nil {
		return []byte(a.Secret), nil
	}

	provider, err := gateway.NewSecretsProvider(cfg.Spec.Secrets, observability.NopLogger())
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("auth.secretRef is set but no secrets provider is configured")
	}
	defer func() { _ = provider.Close() }()

	return secrets.Resolve(ctx, provider, a.SecretRef.Path, a.SecretRef.Key)
}
