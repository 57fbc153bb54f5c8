package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	"peerlink/internal/infrastructure/crypto"
	"peerlink/internal/infrastructure/discovery"
	"peerlink/internal/infrastructure/reliability"
	signalrelay "peerlink/internal/infrastructure/signal"
	webrtcinfra "peerlink/internal/infrastructure/webrtc"
	"peerlink/pkg/circuitbreaker"
	"peerlink/pkg/config"
	"peerlink/pkg/logger"
	"peerlink/pkg/retry"
	"peerlink/pkg/utils"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// stateChangePrinter surfaces registry transitions on the console.
type stateChangePrinter struct {
	log *zap.SugaredLogger
}

func (p *stateChangePrinter) OnPeerStateChange(record domain.PeerRecord, previous domain.PeerState) {
	name := record.DisplayName
	if name == "" {
		name = string(record.ID)
	}
	fmt.Printf("* %s: %s -> %s\n", name, previous, record.State)
}

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/peerlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	localID := domain.PeerID(utils.GeneratePeerID())
	displayName := utils.SanitizeString(cfg.Session.DisplayName)
	if displayName == "" {
		if host, err := os.Hostname(); err == nil {
			displayName = host
		} else {
			displayName = string(localID)[:8]
		}
	}
	displayName = utils.TruncateString(displayName, 50)

	exchanger, err := crypto.NewX25519Exchanger()
	if err != nil {
		log.Fatalw("failed to generate key pair", "error", err)
	}
	cipher := crypto.NewChaChaFrameCipher()

	registry := services.NewPeerRegistry(cfg.Session.MaxPeers, log)
	framer := services.NewFramer(localID, registry, cipher, log)
	handshake := services.NewHandshake(exchanger, registry, framer, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Session.ChannelPassword != "" {
		deriver := crypto.NewArgonChannelKeys(cfg.Crypto.ChannelKeyTTL)
		defer deriver.Stop()

		channelKey, err := deriver.ChannelKey(ctx, cfg.Session.RoomID, cfg.Session.ChannelPassword)
		if err != nil {
			log.Fatalw("failed to derive channel key", "error", err)
		}
		framer.SetChannelKey(channelKey)
	}

	// Reachability probe decides between relay and offline fallback.
	var (
		negotiator      *services.Negotiator
		discoverySource ports.DiscoverySource
		mode            services.DiscoveryMode
	)

	probeErr := signalrelay.Probe(ctx, cfg.Session.RelayURL, cfg.Session.ProbeTimeout)
	if probeErr == nil {
		client := signalrelay.NewClient(cfg.Session.RelayURL, localID, cfg.Session.RoomID, log)
		if token := os.Getenv("PEERLINK_JOIN_TOKEN"); token != "" {
			client.SetToken(token)
		}

		var iceServers []webrtc.ICEServer
		for _, s := range cfg.WebRTC.ICEServers {
			iceServers = append(iceServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
		if len(iceServers) == 0 {
			iceServers = []webrtc.ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			}
		}

		transportConfig := webrtcinfra.Config{ICEServers: iceServers}
		transportConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
		transportConfig.PortRange.Max = cfg.WebRTC.PortRange.Max

		factory, err := webrtcinfra.NewFactory(transportConfig, log)
		if err != nil {
			log.Fatalw("failed to create transport factory", "error", err)
		}

		signaler := reliability.NewSignalerWrapper(client, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log)
		negotiator = services.NewNegotiator(localID, registry, signaler, factory, cfg.Session.NegotiationTimeout, log)
		client.SetHandler(negotiator)

		discoverySource = client
		mode = services.ModeRelay
	} else {
		if !cfg.Fallback.Enabled {
			log.Fatalw("relay unreachable and fallback disabled", "relay_url", cfg.Session.RelayURL, "error", probeErr)
		}
		log.Warnw("relay unreachable, switching to offline fallback", "relay_url", cfg.Session.RelayURL, "error", probeErr)

		network, err := discovery.NewFallbackNetwork(localID, discovery.Config{
			PeerNames:   cfg.Fallback.PeerNames,
			MinDelay:    cfg.Fallback.MinDelay,
			MaxDelay:    cfg.Fallback.MaxDelay,
			AutoConnect: cfg.Fallback.AutoConnect,
		}, log)
		if err != nil {
			log.Fatalw("failed to create fallback network", "error", err)
		}

		negotiator = services.NewNegotiator(localID, registry, network, network, cfg.Session.NegotiationTimeout, log)
		network.SetHandler(negotiator)

		discoverySource = network
		mode = services.ModeFallback
	}

	node := services.NewNode(localID, displayName, mode, registry, negotiator, framer, handshake, discoverySource, log)
	node.OnPeerStateChange(&stateChangePrinter{log: log})
	node.OnMessage(domain.FrameKindChat, func(from domain.PeerID, payload []byte) {
		name := string(from)
		if record, err := registry.Get(from); err == nil && record.DisplayName != "" {
			name = record.DisplayName
		}
		fmt.Printf("<%s> %s\n", name, payload)
	})

	if err := node.Start(ctx); err != nil {
		log.Fatalw("failed to start session", "error", err)
	}

	fmt.Printf("peerlink session started (id=%s, mode=%s); type to chat\n", localID, mode)

	// Console input feeds the broadcast path until EOF or a signal.
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if delivered := node.Broadcast(domain.FrameKindChat, []byte(line)); delivered == 0 {
				fmt.Println("(no connected peers)")
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	case <-inputDone:
	}

	cancel()
	if err := node.Close(); err != nil {
		log.Errorw("error closing session", "error", err)
	}
	fmt.Println("session closed")
}
