package notary

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitchtv/twirp"
)

type apiFixture struct {
	*fixture
	srv *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	f := newFixture(t)

	cfg := DefaultConfig()
	cfg.NotaryID = testNotaryID
	cfg.Secret = "s3cret"

	s := NewServer(f.n, cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{fixture: f, srv: srv}
}

func (a *apiFixture) do(method, path, token string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *apiFixture) decode(resp *http.Response, v interface{}) {
	require.Equal(a.t, http.StatusOK, resp.StatusCode)
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(v))
}

func (a *apiFixture) login(s *KeySigner) string {
	at := a.clock.Now()
	sig := s.Sign([]byte(Challenge(testNotaryID, s.NymID(), at)))

	var out struct {
		Token string `json:"token"`
	}

	a.decode(a.do(http.MethodPost, "/sessions", "", map[string]interface{}{
		"nym_id":    s.NymID(),
		"timestamp": at.Unix(),
		"signature": hex.EncodeToString(sig),
	}), &out)

	require.NotEmpty(a.t, out.Token)
	return out.Token
}

func TestAPIHeartbeat(t *testing.T) {
	a := newAPIFixture(t)
	resp := a.do(http.MethodGet, "/hc", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIRegisterNym(t *testing.T) {
	a := newAPIFixture(t)
	signer, err := GenerateKeySigner()
	require.NoError(t, err)

	var nym Nym
	a.decode(a.do(http.MethodPost, "/nyms", "", map[string]string{
		"public_key": hex.EncodeToString(signer.PublicKey()),
	}), &nym)
	assert.Equal(t, signer.NymID(), nym.ID)

	resp := a.do(http.MethodPost, "/nyms", "", map[string]string{"public_key": "abcd"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(http.MethodPost, "/nyms", "", map[string]string{"public_key": "not hex"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPISession(t *testing.T) {
	a := newAPIFixture(t)
	alice := a.nym()
	token := a.login(alice.KeySigner)

	var cc ClientContext
	a.decode(a.do(http.MethodGet, "/context", token, nil), &cc)
	assert.Equal(t, alice.NymID(), cc.NymID)

	t.Run("no token", func(t *testing.T) {
		resp := a.do(http.MethodGet, "/context", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong signature", func(t *testing.T) {
		at := a.clock.Now()
		sig := alice.Sign([]byte("something else"))
		resp := a.do(http.MethodPost, "/sessions", "", map[string]interface{}{
			"nym_id":    alice.NymID(),
			"timestamp": at.Unix(),
			"signature": hex.EncodeToString(sig),
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("stale challenge", func(t *testing.T) {
		at := a.clock.Now().Add(-10 * time.Minute)
		sig := alice.Sign([]byte(Challenge(testNotaryID, alice.NymID(), at)))
		resp := a.do(http.MethodPost, "/sessions", "", map[string]interface{}{
			"nym_id":    alice.NymID(),
			"timestamp": at.Unix(),
			"signature": hex.EncodeToString(sig),
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPIAccounts(t *testing.T) {
	a := newAPIFixture(t)
	alice := a.nym()
	bob := a.nym()
	aliceToken := a.login(alice.KeySigner)
	bobToken := a.login(bob.KeySigner)

	var account Account
	a.decode(a.do(http.MethodPost, "/accounts", aliceToken, map[string]string{"unit_id": "usd"}), &account)
	assert.Equal(t, alice.NymID(), account.NymID)

	// only the server nym issues
	resp := a.do(http.MethodPost, "/accounts/"+account.ID+"/issue", aliceToken, map[string]int64{"amount": 100})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	serverToken := a.login(a.server)
	var receipt LedgerItem
	a.decode(a.do(http.MethodPost, "/accounts/"+account.ID+"/issue", serverToken, map[string]int64{"amount": 1250}), &receipt)
	assert.Equal(t, ReceiptIssue, receipt.Type)

	var view struct {
		Balance int64  `json:"balance"`
		Display string `json:"display"`
	}
	a.decode(a.do(http.MethodGet, "/accounts/"+account.ID, aliceToken, nil), &view)
	assert.Equal(t, int64(1250), view.Balance)
	assert.Equal(t, "12.50", view.Display)

	var inbox struct {
		Count int           `json:"count"`
		Items []*LedgerItem `json:"items"`
	}
	a.decode(a.do(http.MethodGet, "/accounts/"+account.ID+"/inbox", aliceToken, nil), &inbox)
	assert.Equal(t, 1, inbox.Count)
	assert.Len(t, inbox.Items, 1)

	resp = a.do(http.MethodGet, "/accounts/"+account.ID, bobToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = a.do(http.MethodGet, "/accounts/"+account.ID+"/junk", aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(http.MethodGet, "/accounts/not-a-uuid", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(http.MethodPost, "/accounts", aliceToken, map[string]string{"unit_id": "eur"})
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestAPINumbers(t *testing.T) {
	a := newAPIFixture(t)
	alice := a.nym()
	token := a.login(alice.KeySigner)

	resp := a.do(http.MethodPost, "/numbers?count=3", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var nymbox struct {
		Count int `json:"count"`
	}
	a.decode(a.do(http.MethodGet, "/nymbox", token, nil), &nymbox)
	assert.Equal(t, 1, nymbox.Count)

	resp = a.do(http.MethodPost, "/numbers?count=1000", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPITransactions(t *testing.T) {
	a := newAPIFixture(t)

	resp := a.do(http.MethodPost, "/transactions", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = a.do(http.MethodPost, "/transactions", "", map[string]interface{}{"items": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTwirpError(t *testing.T) {
	tests := []struct {
		err  error
		code twirp.ErrorCode
	}{
		{twirp.PermissionDenied.Error("no"), twirp.PermissionDenied},
		{fmt.Errorf("wrap: %w", ErrNotFound), twirp.NotFound},
		{validation(ReasonMalformed, "bad"), twirp.InvalidArgument},
		{business(ReasonInsufficientFunds, "poor"), twirp.FailedPrecondition},
		{integrity(ReasonBalanceMismatch, "off"), twirp.DataLoss},
		{errors.New("boom"), twirp.Internal},
	}

	for _, tt := range tests {
		var te twirp.Error
		require.True(t, errors.As(twirpError(tt.err), &te))
		assert.Equal(t, tt.code, te.Code(), tt.err.Error())
	}

	var te twirp.Error
	require.True(t, errors.As(twirpError(business(ReasonInsufficientFunds, "poor")), &te))
	assert.Equal(t, string(ReasonInsufficientFunds), te.Meta("reason"))
}
