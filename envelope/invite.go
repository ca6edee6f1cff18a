package envelope

import (
	"net/url"
	"strings"

	"github.com/mudassirishfaq94/chat-app/types"
)

const (
	paramRoom      = "room"
	paramInvitedBy = "invitedBy"
	paramKey       = "key"
)

// InviteLink builds a shareable room link that carries the room key. base is the page URL of the chat client.
func InviteLink(base, roomCode string, key Key, invitedBy string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", types.NewValidationError("invite link", "invalid base url: %v", err)
	}
	q := u.Query()
	q.Set(paramRoom, roomCode)
	if invitedBy != "" {
		q.Set(paramInvitedBy, invitedBy)
	}
	q.Set(paramKey, key.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Invite is what a receiving client learns from an invite link.
type Invite struct {
	RoomCode  string
	InvitedBy string
	// Link is the invite link with the key removed, safe to show in the address bar.
	Link string
}

// ImportInvite stores the key carried by link in the keyring and returns the link with the key stripped. A link
// without a key still yields the room code, for rooms that are not encrypted.
func ImportInvite(kr *Keyring, link string) (*Invite, error) {
	const op = "import invite"
	u, err := url.Parse(link)
	if err != nil {
		return nil, types.NewValidationError(op, "invalid link: %v", err)
	}
	q := u.Query()
	code := strings.TrimSpace(q.Get(paramRoom))
	if code == "" {
		return nil, types.NewValidationError(op, "link carries no room")
	}
	if raw := q.Get(paramKey); raw != "" {
		key, err := ParseKey(raw)
		if err != nil {
			return nil, err
		}
		if err := kr.Set(code, key); err != nil {
			return nil, err
		}
		q.Del(paramKey)
		u.RawQuery = q.Encode()
	}
	return &Invite{RoomCode: code, InvitedBy: q.Get(paramInvitedBy), Link: u.String()}, nil
}
