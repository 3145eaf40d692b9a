package notary

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientContextNumbers(t *testing.T) {
	c := NewClientContext("alice")
	c.grant(1, 2, 3)
	assert.False(t, c.Available(1))

	require.Nil(t, c.accept(1, 2))
	assert.True(t, c.Available(1))
	assert.Equal(t, 2, c.AvailableCount())

	f := c.accept(9)
	require.NotNil(t, f)
	assert.Equal(t, IntegrityFailure, f.Kind)

	require.Nil(t, c.consume(1))
	assert.True(t, c.Used(1))
	assert.False(t, c.Available(1))

	assert.Equal(t, ReasonNumberUsed, c.consume(1).Reason)
	assert.Equal(t, ReasonNumberUnavailable, c.consume(3).Reason, "tentative numbers are not spendable")
	assert.Equal(t, ReasonNumberUnavailable, c.consume(7).Reason)

	c.dispute(1)
	assert.True(t, c.Disputed(1))
}

func TestClientContextJSON(t *testing.T) {
	c := NewClientContext("alice")
	c.issue(5, 4)
	c.grant(8)
	c.dispute(2)
	require.Nil(t, c.consume(4))

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nym_id":"alice","available":[5],"used":[4],"disputed":[2],"tentative":[8]}`, string(b))

	var d ClientContext
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, "alice", d.NymID)
	assert.True(t, d.Available(5))
	assert.True(t, d.Used(4))
	assert.True(t, d.Disputed(2))
	require.Nil(t, d.accept(8))
	assert.True(t, d.Available(8))
}
