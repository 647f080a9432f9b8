package peering

import (
	"context"
	"fmt"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/config"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
	"go.uber.org/zap"
)

// Client ties the tracker and the connection manager together for one
// torrent.
type Client struct {
	info    *metainfo.Descriptor
	cfg     *config.Config
	tracker *TrackerClient
	opts    []Option
	logger  *zap.Logger
}

// NewClient builds a client for info. opts configure both the client's own
// logging and the Manager returned by Start.
func NewClient(info *metainfo.Descriptor, tracker *TrackerClient, cfg *config.Config, opts ...Option) *Client {
	return &Client{
		info:    info,
		cfg:     cfg,
		tracker: tracker,
		opts:    opts,
		logger:  buildOptions(cfg, opts).logger,
	}
}

// Start announces to the tracker and connects to the returned swarm. The
// caller owns the returned Manager and must Close it.
func (c *Client) Start(ctx context.Context) (*Manager, error) {
	peers, err := c.tracker.Announce(ctx, c.info)
	if err != nil {
		return nil, fmt.Errorf("failed to get peers: %w", err)
	}
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	c.logger.Info("Tracker returned peers", zap.String("name", c.info.Name), zap.Int("peers", len(peers)))

	m := NewManager(c.info, c.cfg, c.opts...)
	m.Connect(ctx, peers)
	return m, nil
}
