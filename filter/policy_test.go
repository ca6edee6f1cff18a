package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyPolicyAllows(t *testing.T) {
	p, err := Compile("  ")
	require.NoError(t, err)
	assert.True(t, p.Allow(Env{Text: "anything"}))

	var nilPolicy *Policy
	assert.True(t, nilPolicy.Allow(Env{}))
}

func TestPolicy(t *testing.T) {
	p, err := Compile(`TextLength <= 10 && !(Lower(Text) contains "spam")`)
	require.NoError(t, err)

	assert.True(t, p.Allow(Env{Text: "hello", TextLength: 5}))
	assert.False(t, p.Allow(Env{Text: "buy SPAM", TextLength: 8}))
	assert.False(t, p.Allow(Env{Text: "a very long message", TextLength: 19}))
}

func TestPolicyUsesUserAndAttachment(t *testing.T) {
	p, err := Compile(`IsAdmin || !HasAttachment || Attachment.Size < 100`)
	require.NoError(t, err)

	assert.True(t, p.Allow(Env{User: User{Id: "a", IsAdmin: true}, HasAttachment: true, Attachment: Attachment{Size: 1000}}))
	assert.False(t, p.Allow(Env{User: User{Id: "b"}, HasAttachment: true, Attachment: Attachment{Size: 1000}}))
	assert.True(t, p.Allow(Env{User: User{Id: "b"}, HasAttachment: true, Attachment: Attachment{Size: 10}}))
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	_, err := Compile(`TextLength + 1`)
	assert.Error(t, err)

	_, err = Compile(`NoSuchField == 1`)
	assert.Error(t, err)
}
