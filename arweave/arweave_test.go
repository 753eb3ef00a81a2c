package arweave

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/envelope"
	"github.com/keyfort/keyfort/fault"
)

const (
	testTxID  = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	testTxID2 = "BBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

func testPayloadBody(t *testing.T, vaultID string) []byte {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	data, err := envelope.Encrypt([]byte("vault contents"), key)
	require.NoError(t, err)

	body, err := EncodeStoredPayload(&StoredPayload{
		VaultID:  vaultID,
		Metadata: "v3:dGVzdA",
		Data:     data,
	})
	require.NoError(t, err)
	return body
}

func indexResponse(txID string) string {
	if txID == "" {
		return `{"data":{"transactions":{"edges":[]}}}`
	}
	return fmt.Sprintf(`{"data":{"transactions":{"edges":[{"node":{"id":%q}}]}}}`, txID)
}

// gatewayStub routes the handful of endpoints Resolve touches.
type gatewayStub struct {
	indexTx  string // tx id returned by /graphql, "" for no edges
	indexErr bool   // /graphql answers 500
	status   map[string]int
	data     map[string][]byte
}

func (g *gatewayStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/graphql":
			if g.indexErr {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, indexResponse(g.indexTx))

		case strings.HasSuffix(r.URL.Path, "/status"):
			txID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/tx/"), "/status")
			code, ok := g.status[txID]
			if !ok {
				code = http.StatusNotFound
			}
			w.WriteHeader(code)

		default:
			txID := strings.TrimPrefix(r.URL.Path, "/")
			txID = strings.TrimPrefix(txID, "raw/")
			if body, ok := g.data[txID]; ok {
				w.Write(body)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestResolve_IndexedAndConfirmed(t *testing.T) {
	body := testPayloadBody(t, "vault-1")
	stub := &gatewayStub{
		indexTx: testTxID,
		status:  map[string]int{testTxID: http.StatusOK},
		data:    map[string][]byte{testTxID: body},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	res, err := c.Resolve(context.Background(), "vault-1", "")
	require.NoError(t, err)
	assert.Equal(t, testTxID, res.TxID)
	assert.Equal(t, "vault-1", res.Payload.VaultID)
	assert.Equal(t, "v3:dGVzdA", res.Payload.Metadata)
}

func TestResolve_NewerVersionPending(t *testing.T) {
	// The index still points at the old version while the caller already
	// holds the id of a newer, pending one.
	stub := &gatewayStub{
		indexTx: testTxID,
		status: map[string]int{
			testTxID:  http.StatusOK,
			testTxID2: http.StatusAccepted,
		},
		data: map[string][]byte{testTxID: testPayloadBody(t, "vault-1")},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	_, err := c.Resolve(context.Background(), "vault-1", testTxID2)
	assert.ErrorIs(t, err, fault.ErrPending)
}

func TestResolve_SupersededCallerTx(t *testing.T) {
	// The caller's tx is confirmed but the index knows a newer one; the
	// indexed version wins.
	body := testPayloadBody(t, "vault-1")
	stub := &gatewayStub{
		indexTx: testTxID2,
		status: map[string]int{
			testTxID:  http.StatusOK,
			testTxID2: http.StatusOK,
		},
		data: map[string][]byte{testTxID2: body},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	res, err := c.Resolve(context.Background(), "vault-1", testTxID)
	require.NoError(t, err)
	assert.Equal(t, testTxID2, res.TxID)
}

func TestResolve_IndexDownFallsBackToCallerTx(t *testing.T) {
	body := testPayloadBody(t, "vault-1")
	stub := &gatewayStub{
		indexErr: true,
		status:   map[string]int{testTxID: http.StatusOK},
		data:     map[string][]byte{testTxID: body},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	res, err := c.Resolve(context.Background(), "vault-1", testTxID)
	require.NoError(t, err)
	assert.Equal(t, testTxID, res.TxID)
}

func TestResolve_CallerTxPending(t *testing.T) {
	stub := &gatewayStub{
		status: map[string]int{testTxID: http.StatusAccepted},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	_, err := c.Resolve(context.Background(), "vault-1", testTxID)
	assert.ErrorIs(t, err, fault.ErrPending)
}

func TestResolve_NothingKnown(t *testing.T) {
	stub := &gatewayStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	_, err := c.Resolve(context.Background(), "vault-1", "")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestResolve_SecondaryLedger(t *testing.T) {
	// The vault id itself is shaped like a transaction id and resolves only
	// on the secondary gateway set.
	body := testPayloadBody(t, testTxID)
	primary := httptest.NewServer((&gatewayStub{}).handler())
	defer primary.Close()
	secondary := httptest.NewServer((&gatewayStub{
		data: map[string][]byte{testTxID: body},
	}).handler())
	defer secondary.Close()

	c := NewClient(
		WithGateways(primary.URL),
		WithSecondaryGateways(secondary.URL),
	)
	res, err := c.Resolve(context.Background(), testTxID, "")
	require.NoError(t, err)
	assert.Equal(t, testTxID, res.TxID)
}

func TestFetchData_GatewayFallback(t *testing.T) {
	body := testPayloadBody(t, "vault-1")

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()
	healthy := httptest.NewServer((&gatewayStub{
		data: map[string][]byte{testTxID: body},
	}).handler())
	defer healthy.Close()

	c := NewClient(WithGateways(broken.URL, healthy.URL))
	got, err := c.fetchData(context.Background(), c.gateways, testTxID)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchData_SplashPageFallsThrough(t *testing.T) {
	body := testPayloadBody(t, "vault-1")

	// A misbehaving gateway answers 200 with an HTML splash page instead
	// of the payload; the next gateway must still be tried.
	splash := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>gateway splash page</html>")
	}))
	defer splash.Close()
	healthy := httptest.NewServer((&gatewayStub{
		data: map[string][]byte{testTxID: body},
	}).handler())
	defer healthy.Close()

	c := NewClient(WithGateways(splash.URL, healthy.URL))
	got, err := c.fetchData(context.Background(), c.gateways, testTxID)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchData_AcceptedMeansPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	_, err := c.fetchData(context.Background(), c.gateways, testTxID)
	assert.ErrorIs(t, err, fault.ErrPending)
}

func TestTxStatus(t *testing.T) {
	stub := &gatewayStub{
		status: map[string]int{
			testTxID:  http.StatusOK,
			testTxID2: http.StatusAccepted,
		},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewClient(WithGateways(srv.URL))
	ctx := context.Background()
	assert.Equal(t, TxStatusConfirmed, c.TxStatus(ctx, testTxID))
	assert.Equal(t, TxStatusPending, c.TxStatus(ctx, testTxID2))
	assert.Equal(t, TxStatusNotFound, c.TxStatus(ctx, "CCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"))
}

func TestParseStoredPayload_LegacyShape(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	data, err := envelope.Encrypt([]byte("legacy contents"), key)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"vaultId":       "vault-legacy",
		"encryptedData": data,
		"metadata":      map[string]string{"title": "old"},
	})
	require.NoError(t, err)

	p, err := ParseStoredPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "vault-legacy", p.VaultID)
	assert.JSONEq(t, `{"title":"old"}`, p.Metadata)
	assert.NotNil(t, p.Data)
}

func TestParseStoredPayload_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"NotJSON":     "<html>gateway splash page</html>",
		"EmptyObject": "{}",
		"WrongShape":  `{"hello":"world"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStoredPayload([]byte(raw))
			assert.ErrorIs(t, err, fault.ErrFormat)
		})
	}
}

func TestUpload_ChunksAndProgress(t *testing.T) {
	var chunksSeen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tx":
			fmt.Fprint(w, testTxID)
		case strings.Contains(r.URL.Path, "/chunk/"):
			chunksSeen.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	big := make([]byte, 3*UploadChunkSize/2)
	data, err := envelope.Encrypt(big, key)
	require.NoError(t, err)

	progress := make(chan Progress, 16)
	c := NewClient(WithGateways(srv.URL))
	res, err := c.Upload(context.Background(), &StoredPayload{
		VaultID: "vault-1",
		Data:    data,
	}, progress)
	require.NoError(t, err)
	assert.Equal(t, testTxID, res.TxID)
	assert.GreaterOrEqual(t, int(chunksSeen.Load()), 2, "payload spans multiple chunks")

	close(progress)
	var last Progress
	for p := range progress {
		assert.Greater(t, p.Fraction, last.Fraction, "fractions advance monotonically")
		last = p
	}
	assert.Equal(t, 1.0, last.Fraction)
	assert.Equal(t, last.TotalChunks, last.Chunk)
}

func TestUpload_RetriesFailedChunk(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tx":
			fmt.Fprint(w, testTxID)
		case strings.Contains(r.URL.Path, "/chunk/"):
			if attempts.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	data, err := envelope.Encrypt([]byte("small"), key)
	require.NoError(t, err)

	c := NewClient(WithGateways(srv.URL))
	res, err := c.Upload(context.Background(), &StoredPayload{VaultID: "vault-1", Data: data}, nil)
	require.NoError(t, err)
	assert.Equal(t, testTxID, res.TxID)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestUpload_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/tx":
			fmt.Fprint(w, testTxID)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	data, err := envelope.Encrypt([]byte("small"), key)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(WithGateways(srv.URL))
	_, err = c.Upload(ctx, &StoredPayload{VaultID: "vault-1", Data: data}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLooksLikeTxID(t *testing.T) {
	assert.True(t, LooksLikeTxID(testTxID))
	assert.True(t, LooksLikeTxID(strings.Repeat("a", 20)+strings.Repeat("_-", 11)+"z"))
	assert.False(t, LooksLikeTxID("vault-1"))
	assert.False(t, LooksLikeTxID(strings.Repeat("a", 42)))
	assert.False(t, LooksLikeTxID(strings.Repeat("a", 44)))
	assert.False(t, LooksLikeTxID(strings.Repeat("a", 42)+"+"))
}
