package receipts

import (
	"encoding/json"
	"testing"

	"github.com/mudassirishfaq94/chat-app/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceNeverRegresses(t *testing.T) {
	assert.Equal(t, StatusDelivered, StatusSent.Advance(StatusDelivered))
	assert.Equal(t, StatusSeen, StatusDelivered.Advance(StatusSeen))
	assert.Equal(t, StatusSeen, StatusSeen.Advance(StatusDelivered))
	assert.Equal(t, StatusSeen, StatusSent.Advance(StatusSeen))
}

func TestLedgerOutOfOrder(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, StatusSent, l.Status(7))

	assert.Equal(t, StatusSeen, l.Apply(types.EventMessageSeenBy, 7))
	assert.Equal(t, StatusSeen, l.Apply(types.EventMessageDelivered, 7))
	assert.Equal(t, StatusSeen, l.Apply("typing", 7))
	assert.Equal(t, StatusDelivered, l.Apply(types.EventMessageDelivered, 8))
}

func TestStatusJSON(t *testing.T) {
	raw, err := json.Marshal(map[string]Status{"a": StatusSeen})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"seen"}`, string(raw))
}
