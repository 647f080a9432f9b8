package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/config"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/magnet"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/peering"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func init() {
	var err error
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

type handler func(cfg *config.Config, args []string) error

var commands = map[string]struct {
	run     handler
	failure string
}{
	"decode":       {handleDecode, "Failed to decode"},
	"info":         {handleInfo, "Failed to get info"},
	"peers":        {handlePeers, "Failed to get peers"},
	"handshake":    {handleHandshake, "Failed to handshake"},
	"connect":      {handleConnect, "Failed to connect to swarm"},
	"magnet_parse": {handleMagnetParse, "Failed to parse magnet link"},
	"magnet_peers": {handleMagnetPeers, "Failed to get magnet peers"},
}

func main() {
	logger := zap.L()
	defer func() { _ = logger.Sync() }()

	if len(os.Args) < 2 {
		logger.Error("Usage: mybittorrent <command> [arguments]")
		os.Exit(1)
	}
	command := os.Args[1]

	cmd, ok := commands[command]
	if !ok {
		logger.Error("Unknown command", zap.String("command", command))
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("MYBITTORRENT_CONFIG"))
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if err := cmd.run(cfg, os.Args); err != nil {
		logger.Error(cmd.failure, zap.Error(err))
		os.Exit(1)
	}
}

// Command handlers

func handleDecode(_ *config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}
	decoded, err := bencode.Decode([]byte(args[2]))
	if err != nil {
		return err
	}
	jsonOutput, err := json.Marshal(decoded.Interface())
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func loadDescriptor(args []string, usage string) (*metainfo.Descriptor, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("usage: %s", usage)
	}
	return metainfo.Load(afero.NewOsFs(), args[2])
}

func handleInfo(_ *config.Config, args []string) error {
	info, err := loadDescriptor(args, "info <torrent-file>")
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", info.Announce)
	fmt.Printf("Length: %d\n", info.Length)
	fmt.Printf("Info Hash: %s\n", info.InfoHash)
	fmt.Printf("Piece Length: %d\n", info.PieceLength)
	fmt.Printf("Size: %s in %d pieces of %s\n",
		humanize.IBytes(uint64(info.Length)), info.NumPieces(), humanize.IBytes(uint64(info.PieceLength)))
	for _, f := range info.Files {
		fmt.Printf("File: %s (%s)\n", strings.Join(f.Path, "/"), humanize.IBytes(uint64(f.Length)))
	}
	fmt.Println("Piece Hashes:")
	for _, pieceHash := range info.PieceHashes {
		fmt.Println(pieceHash)
	}
	return nil
}

func handlePeers(cfg *config.Config, args []string) error {
	info, err := loadDescriptor(args, "peers <torrent-file>")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	peers, err := peering.NewTrackerClient(cfg).Announce(ctx, info)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		fmt.Println(peer)
	}
	return nil
}

func handleHandshake(cfg *config.Config, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: handshake <torrent-file> <peer-address>")
	}
	info, err := loadDescriptor(args, "handshake <torrent-file> <peer-address>")
	if err != nil {
		return err
	}
	peerAddr := args[3]

	conn, err := net.DialTimeout("tcp", peerAddr, cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}
	defer conn.Close()

	response, err := peering.PerformHandshake(conn, info.InfoHash, cfg.PeerIDBytes())
	if err != nil {
		return err
	}

	fmt.Printf("Peer ID: %s\n", hex.EncodeToString(response.PeerID[:]))
	return nil
}

// handleConnect joins the swarm and prints every message until all peers
// hang up or the user interrupts.
func handleConnect(cfg *config.Config, args []string) error {
	logger := zap.L()
	info, err := loadDescriptor(args, "connect <torrent-file>")
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client := peering.NewClient(info, peering.NewTrackerClient(cfg), cfg)
	manager, err := client.Start(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	for {
		ev, err := manager.Next(ctx)
		if errors.Is(err, peering.ErrEndOfStream) {
			logger.Info("All peers disconnected")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		fmt.Printf("%s [%d]: %s\n", ev.Addr, ev.Peer, ev.Message)
		if ev.Message.Type != peering.MsgBitfield {
			continue
		}
		if err := manager.Send(ctx, ev.Peer, peering.Message{Type: peering.MsgInterested}); err != nil {
			logger.Warn("Failed to send interested", zap.Stringer("peer", ev.Addr), zap.Error(err))
		}
	}
}

func handleMagnetParse(_ *config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse magnet link: %w", err)
	}

	// At least one tracker is required
	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	fmt.Printf("Tracker URL: %s\n", link.Tracker())
	fmt.Printf("Info Hash: %s\n", link.InfoHash)
	return nil
}

func handleMagnetPeers(cfg *config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_peers <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse magnet link: %w", err)
	}
	if link.Tracker() == "" {
		return fmt.Errorf("no trackers found in magnet link")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// The size is unknown until the metadata is fetched, so announce one
	// byte left.
	resp, err := peering.NewTrackerClient(cfg).Do(ctx, peering.AnnounceRequest{
		URL:      link.Tracker(),
		InfoHash: link.InfoHash,
		PeerID:   cfg.PeerIDBytes(),
		Port:     cfg.Port,
		Left:     1,
		Compact:  cfg.Compact,
	})
	if err != nil {
		return err
	}
	for _, peer := range resp.Peers {
		fmt.Println(peer)
	}
	return nil
}
