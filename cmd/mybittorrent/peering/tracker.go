package peering

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/config"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
	"go.uber.org/zap"
)

// TrackerClient announces to HTTP trackers.
type TrackerClient struct {
	cfg    *config.Config
	http   *http.Client
	logger *zap.Logger
}

type TrackerOption func(*TrackerClient)

func WithHTTPClient(c *http.Client) TrackerOption {
	return func(tc *TrackerClient) { tc.http = c }
}

func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(tc *TrackerClient) { tc.logger = l }
}

func NewTrackerClient(cfg *config.Config, opts ...TrackerOption) *TrackerClient {
	tc := &TrackerClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.TrackerTimeout},
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// NewAnnounceRequest builds the request announcing d with nothing
// transferred yet.
func (c *TrackerClient) NewAnnounceRequest(d *metainfo.Descriptor) AnnounceRequest {
	return AnnounceRequest{
		URL:      d.Announce,
		InfoHash: d.InfoHash,
		PeerID:   c.cfg.PeerIDBytes(),
		Port:     c.cfg.Port,
		Left:     d.Length,
		Compact:  c.cfg.Compact,
	}
}

// Announce asks the descriptor's tracker for peers.
func (c *TrackerClient) Announce(ctx context.Context, d *metainfo.Descriptor) ([]Peer, error) {
	resp, err := c.Do(ctx, c.NewAnnounceRequest(d))
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// Do performs a single announce. It never retries.
func (c *TrackerClient) Do(ctx context.Context, req AnnounceRequest) (*TrackerResponse, error) {
	trackerURL, err := req.Encode()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read tracker response: %w", ErrNetwork, err)
	}

	trackerResp, err := ParseTrackerResponse(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Tracker announce",
		zap.String("tracker", req.URL),
		zap.Stringer("info_hash", req.InfoHash),
		zap.Int("peers", len(trackerResp.Peers)),
		zap.Int("interval", trackerResp.Interval))
	if trackerResp.WarningMessage != "" {
		c.logger.Warn("Tracker warning", zap.String("tracker", req.URL), zap.String("warning", trackerResp.WarningMessage))
	}
	return trackerResp, nil
}

// Encode returns the announce URL with the query string appended. The info
// hash has every byte percent-escaped so the tracker sees the raw digest.
func (r AnnounceRequest) Encode() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid announce url %q: %w", r.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}

	compact := "0"
	if r.Compact {
		compact = "1"
	}
	params := url.Values{
		"peer_id":    []string{string(r.PeerID[:])},
		"port":       []string{strconv.Itoa(int(r.Port))},
		"uploaded":   []string{strconv.FormatInt(r.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(r.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(r.Left, 10)},
		"compact":    []string{compact},
	}

	var query strings.Builder
	if u.RawQuery != "" {
		query.WriteString(u.RawQuery)
		query.WriteByte('&')
	}
	query.WriteString(params.Encode())
	query.WriteString("&info_hash=")
	query.WriteString(escapeBytes(r.InfoHash[:]))

	u.RawQuery = query.String()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

func escapeBytes(b []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, 3*len(b))
	for _, c := range b {
		out = append(out, '%', hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(out)
}

// ParseTrackerResponse decodes an announce response body.
func ParseTrackerResponse(body []byte) (*TrackerResponse, error) {
	root, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tracker response: %w", err)
	}
	if root.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("%w: tracker response is a %s, not a dictionary", bencode.ErrMalformedEncoding, root.Kind())
	}

	if root.Has("failure reason") {
		reason, err := root.GetText("failure reason")
		if err != nil {
			return nil, err
		}
		return nil, &FailureError{Reason: reason}
	}

	peersValue, err := root.Get("peers")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPeerList, err)
	}
	peersData, err := peersValue.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: only the compact form is supported: %w", ErrMalformedPeerList, err)
	}
	peers, err := ParsePeers(peersData)
	if err != nil {
		return nil, err
	}

	resp := &TrackerResponse{Peers: peers}
	fields, ok := root.Interface().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: tracker response is not a dictionary", bencode.ErrMalformedEncoding)
	}
	delete(fields, "peers")
	if err := mapstructure.Decode(fields, resp); err != nil {
		return nil, fmt.Errorf("%w: %w", bencode.ErrTypeMismatch, err)
	}
	return resp, nil
}
