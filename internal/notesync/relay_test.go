package notesync

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell/inkwell/internal/record"
)

func TestRelay_FansOutToAllPeers(t *testing.T) {
	srv := httptest.NewServer(NewRelayServer(testLogger()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()

	a, err := DialRelay(ctx, url, testLogger())
	require.NoError(t, err)
	defer a.Close()
	b, err := DialRelay(ctx, url, testLogger())
	require.NoError(t, err)
	defer b.Close()

	gotA := make(chan record.UpdateRecord, 1)
	gotB := make(chan record.UpdateRecord, 1)
	a.Subscribe(func(rec record.UpdateRecord) { gotA <- rec })
	b.Subscribe(func(rec record.UpdateRecord) { gotB <- rec })

	sent := record.UpdateRecord{
		Instance:  "ia",
		Note:      "n1",
		Timestamp: 42,
		Sequence:  1,
		Payload:   []byte("delta"),
	}
	require.NoError(t, a.Publish(ctx, sent))

	// The peer receives the record.
	select {
	case rec := <-gotB:
		assert.Equal(t, sent.Key(), rec.Key())
		assert.Equal(t, sent.Payload, rec.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the record")
	}

	// The relay echoes back to the sender too; suppression happens client-side.
	select {
	case rec := <-gotA:
		assert.Equal(t, sent.Key(), rec.Key())
	case <-time.After(2 * time.Second):
		t.Fatal("sender never received its own echo")
	}
}

func TestRelayClient_Unsubscribe(t *testing.T) {
	srv := httptest.NewServer(NewRelayServer(testLogger()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx := context.Background()

	c, err := DialRelay(ctx, url, testLogger())
	require.NoError(t, err)
	defer c.Close()

	got := make(chan record.UpdateRecord, 4)
	unsub := c.Subscribe(func(rec record.UpdateRecord) { got <- rec })
	unsub()

	require.NoError(t, c.Publish(ctx, record.UpdateRecord{
		Instance: "ia", Note: "n1", Sequence: 1, Payload: []byte("x"),
	}))

	select {
	case rec := <-got:
		t.Fatalf("unsubscribed callback still received %+v", rec)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRelayClient_CloseIdempotent(t *testing.T) {
	srv := httptest.NewServer(NewRelayServer(testLogger()))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c, err := DialRelay(context.Background(), url, testLogger())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
