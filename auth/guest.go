package auth

import (
	"context"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
)

// GuestProvider admits connections without credentials under a random fantasy name.
type GuestProvider struct{}

func (GuestProvider) Verify(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Token != "" {
		return nil, ErrNotApplicable
	}
	return &Identity{
		UserId:      "guest-" + uuid.New().String(),
		DisplayName: goname.New(goname.FantasyMap).FirstLast() + " (guest)",
		Guest:       true,
	}, nil
}
