package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/globals"
	"github.com/mudassirishfaq94/chat-app/types"
)

const (
	TokenCookie   = "chat_token"
	TokenParam    = "token"
	ProviderParam = "provider"
)

// ErrNotApplicable is returned by a Provider that does not handle the given kind of credentials. Chain moves on to
// the next provider.
var ErrNotApplicable = errors.New("credentials not handled by this provider")

// Credentials is what a client presents on connect. Provider names an OIDC provider; it is empty for tokens issued
// by this server.
type Credentials struct {
	Token    string
	Provider string
}

// Identity is a verified (userId, displayName, isAdmin) triple.
type Identity struct {
	UserId      string
	DisplayName string
	IsAdmin     bool
	Guest       bool
}

func (i Identity) User() types.User {
	return types.User{Id: i.UserId, DisplayName: i.DisplayName, IsAdmin: i.IsAdmin}
}

type Provider interface {
	Verify(ctx context.Context, creds Credentials) (*Identity, error)
}

// Chain asks its providers in order; the first one that handles the credentials decides. Ids listed as admins are
// promoted regardless of what the provider said.
type Chain struct {
	providers []Provider
	admins    map[string]bool
	logger    hclog.Logger
}

func NewChain(adminUsers []string, providers ...Provider) *Chain {
	admins := make(map[string]bool, len(adminUsers))
	for _, id := range adminUsers {
		if id != "" {
			admins[id] = true
		}
	}
	return &Chain{providers: providers, admins: admins, logger: globals.AppLogger.Named("auth")}
}

func (c *Chain) Verify(ctx context.Context, creds Credentials) (*Identity, error) {
	const op = "authenticate"
	for _, p := range c.providers {
		id, err := p.Verify(ctx, creds)
		if errors.Is(err, ErrNotApplicable) {
			continue
		}
		if err != nil {
			c.logger.Warn("credentials rejected", "provider", creds.Provider, "error", err)
			return nil, &types.Error{Kind: types.KindAuthorization, Op: op, Message: "invalid credentials", Err: err}
		}
		if c.admins[id.UserId] && !id.Guest {
			id.IsAdmin = true
		}
		return id, nil
	}
	return nil, types.NewAuthorizationError(op, "no credentials")
}

// CredentialsFromRequest extracts credentials from a bearer header, the token query parameter or the token cookie,
// in that order.
func CredentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{Provider: strings.TrimSpace(r.URL.Query().Get(ProviderParam))}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
		creds.Token = strings.TrimSpace(h[len("bearer "):])
		return creds
	}
	if t := r.URL.Query().Get(TokenParam); t != "" {
		creds.Token = t
		return creds
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		creds.Token = c.Value
	}
	return creds
}
