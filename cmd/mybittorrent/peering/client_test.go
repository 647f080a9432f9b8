package peering

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClientStart(t *testing.T) {
	d := testDescriptor("")
	srv := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		writeBencode(t, w, map[string]any{
			"interval": 60,
			"peers":    []byte{10, 0, 0, 1, 0x1a, 0xe1, 10, 0, 0, 2, 0x1a, 0xe1},
		})
	})
	d.Announce = srv.URL + "/announce"

	cfg := testConfig()
	tracker := NewTrackerClient(cfg)
	peers, err := tracker.Announce(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, []Peer{testPeer(1), testPeer(2)}, peers)

	good := newFakePeer(t)
	good.serve(d.InfoHash, true, NewBitfield([]byte{0x80}), Message{Type: MsgUnchoke})

	dialer := &mockDialer{}
	dialer.On("DialContext", mock.Anything, "tcp", "10.0.0.1:6881").Return(good.local, nil)
	dialer.timeout("10.0.0.2:6881")

	core, logs := observer.New(zap.InfoLevel)
	client := NewClient(d, tracker, cfg, WithDialer(dialer), WithLogger(zap.New(core)))
	m, err := client.Start(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	var got []MessageType
	for {
		ev, err := nextEvent(t, m)
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfStream)
			break
		}
		assert.Equal(t, testPeer(1), ev.Addr)
		got = append(got, ev.Message.Type)
	}
	assert.Equal(t, []MessageType{MsgBitfield, MsgUnchoke}, got)
	dialer.AssertExpectations(t)

	assert.Equal(t, 1, logs.FilterMessage("Tracker returned peers").Len())
	assert.Equal(t, 1, logs.FilterMessage("Connected to swarm").Len())
}

func TestClientStartNoPeers(t *testing.T) {
	srv := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		writeBencode(t, w, map[string]any{"interval": 60, "peers": ""})
	})

	cfg := testConfig()
	client := NewClient(testDescriptor(srv.URL), NewTrackerClient(cfg), cfg)
	_, err := client.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoPeers)
}

func TestClientStartTrackerFailure(t *testing.T) {
	srv := newTracker(t, func(w http.ResponseWriter, r *http.Request) {
		writeBencode(t, w, map[string]any{"failure reason": "denied"})
	})

	cfg := testConfig()
	client := NewClient(testDescriptor(srv.URL), NewTrackerClient(cfg), cfg)
	_, err := client.Start(context.Background())
	var failure *FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "denied", failure.Reason)
}
