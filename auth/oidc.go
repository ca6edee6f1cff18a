package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mudassirishfaq94/chat-app/config"
	"github.com/mudassirishfaq94/chat-app/globals"
)

// OIDCProvider verifies ID tokens issued by one of the configured OpenID Connect providers. The provider is named
// by Credentials.Provider.
// TODO: the user id is taken from the "email" claim, make the claim configurable per provider.
type OIDCProvider struct {
	configs   []config.OIDCConfig
	mu        sync.Mutex
	verifiers map[string]*oidc.IDTokenVerifier
}

func NewOIDCProvider(configs []config.OIDCConfig) *OIDCProvider {
	return &OIDCProvider{configs: configs, verifiers: make(map[string]*oidc.IDTokenVerifier)}
}

// verifier discovers the provider endpoints on first use and caches the verifier.
func (p *OIDCProvider) verifier(ctx context.Context, name string) (*oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.verifiers[name]; ok {
		return v, nil
	}
	var oidcConf *config.OIDCConfig
	for i := range p.configs {
		if p.configs[i].Name == name {
			oidcConf = &p.configs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", name)
		return nil, ErrNotApplicable
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	v := provider.Verifier(&conf)
	p.verifiers[name] = v
	return v, nil
}

func (p *OIDCProvider) Verify(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Token == "" || creds.Provider == "" {
		return nil, ErrNotApplicable
	}
	v, err := p.verifier(ctx, creds.Provider)
	if err != nil {
		return nil, err
	}
	idToken, err := v.Verify(ctx, creds.Token)
	if err != nil {
		return nil, err
	}
	claims := struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, err
	}
	if claims.Email == "" {
		return nil, errors.New("id token carries no email claim")
	}
	name := claims.Name
	if name == "" {
		name = claims.Email
	}
	return &Identity{UserId: claims.Email, DisplayName: name}, nil
}
