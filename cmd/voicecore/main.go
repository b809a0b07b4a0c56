// Copyright (c) 2023-2025 RapidaAI
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command voicecore runs the telephony core process: it loads
// configuration, brings up the SIP transport, the RTP port pool, the
// persisted call-record store and the recording sink, and serves the
// hosted media-stream websocket alongside the outbound SIP dialer until
// signalled to stop.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/voicecore/internal/callmodel"
	"github.com/rapidaai/voicecore/internal/callrecord"
	"github.com/rapidaai/voicecore/internal/config"
	"github.com/rapidaai/voicecore/internal/logging"
	"github.com/rapidaai/voicecore/internal/mediabridge"
	"github.com/rapidaai/voicecore/internal/mediastream"
	"github.com/rapidaai/voicecore/internal/recording"
	"github.com/rapidaai/voicecore/internal/rtpsession"
	"github.com/rapidaai/voicecore/internal/siptransport"
)

func main() {
	v, err := config.InitConfig()
	if err != nil {
		log.Fatalf("voicecore: loading config: %v", err)
	}
	appCfg, err := config.GetApplicationConfig(v)
	if err != nil {
		log.Fatalf("voicecore: invalid config: %v", err)
	}

	logger := logging.New(logging.Config{
		FilePath: appCfg.LogFilePath,
		Level:    appCfg.LogLevel,
		Console:  true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("voicecore: shutdown signal received")
		cancel()
	}()

	records, err := buildCallRecordStore(appCfg, logger)
	if err != nil {
		logger.Error("voicecore: call record store unavailable, running without persistence", "error", err)
		records = callrecord.NoopStore{}
	}

	ports := buildPortAllocator(appCfg, logger)

	sipTransport, err := siptransport.NewTransport(logger, siptransport.Config{
		ListenIP:            "0.0.0.0",
		ListenPort:          appCfg.SIPConfig.ListenPort,
		Transport:           appCfg.SIPConfig.Transport,
		UserAgent:           "voicecore",
		PublicIPDiscoverURL: appCfg.SIPConfig.PublicIPDiscoverURL,
	})
	if err != nil {
		logger.Error("voicecore: failed to start SIP transport", "error", err)
		os.Exit(1)
	}
	if _, err := sipTransport.DiscoverPublicIP(ctx); err != nil {
		logger.Warn("voicecore: public IP discovery failed, SDP and Contact will carry an empty address", "error", err)
	}

	if appCfg.Trunk.Host != "" {
		registerWithTrunk(ctx, sipTransport, appCfg.Trunk, logger)
	}

	bridge := mediabridge.New(mediabridge.Deps{
		Logger:       logger,
		SIPTransport: sipTransport,
		RTPPorts:     ports,
		Recording:    recording.New(logger, recording.NoopObjectStore{}),
		Records:      records,
		Credentials:  appCfg.Providers,
	})

	go func() {
		if err := sipTransport.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			logger.Error("voicecore: SIP transport exited", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/media-stream", hostedMediaStreamHandler(logger, bridge))
	server := &http.Server{Addr: ":8081", Handler: mux}
	go func() {
		logger.Info("voicecore: hosted media-stream listener starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("voicecore: media-stream server exited", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("voicecore: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

// registerWithTrunk performs the REGISTER that makes the shared transport
// socket known to the upstream trunk before any INVITE is dialed through
// it (spec.md §6.1). Renewing before the granted expiry elapses is left to
// the deployment supervising this process (see DESIGN.md's Open Question
// decision on registrar retry) rather than a background loop here.
func registerWithTrunk(ctx context.Context, t *siptransport.Transport, cfg config.TrunkConfig, logger logging.Logger) {
	granted, err := t.Register(ctx, siptransport.RegisterOptions{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Username:      cfg.Username,
		AuthUsername:  cfg.AuthUsername,
		Password:      cfg.Password,
		ExpirySeconds: cfg.ExpirySeconds,
	})
	if err != nil {
		logger.Error("voicecore: trunk registration failed, outbound dialing will use the trunk unregistered", "error", err)
		return
	}
	logger.Info("voicecore: registered with trunk", "host", cfg.Host, "expirySeconds", granted)
}

func buildCallRecordStore(appCfg *config.AppConfig, logger logging.Logger) (callrecord.Store, error) {
	if appCfg.PostgresConfig.Host == "" {
		return callrecord.NoopStore{}, nil
	}
	dsn := "host=" + appCfg.PostgresConfig.Host +
		" user=" + appCfg.PostgresConfig.User +
		" password=" + appCfg.PostgresConfig.Password +
		" dbname=" + appCfg.PostgresConfig.DBName +
		" sslmode=" + appCfg.PostgresConfig.SSLMode
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&callrecord.Record{}); err != nil {
		return nil, err
	}
	logger.Info("voicecore: connected to call-record store", "host", appCfg.PostgresConfig.Host)
	return callrecord.NewStore(db), nil
}

func buildPortAllocator(appCfg *config.AppConfig, logger logging.Logger) rtpsession.PortStore {
	if appCfg.RedisConfig.Addr == "" {
		logger.Info("voicecore: no redis address configured, using single-instance RTP port allocator")
		return rtpsession.NewLocalPortAllocator(appCfg.SIPConfig.RTPPortRangeStart, appCfg.SIPConfig.RTPPortRangeEnd)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     appCfg.RedisConfig.Addr,
		Password: appCfg.RedisConfig.Password,
		DB:       appCfg.RedisConfig.DB,
	})
	allocator := rtpsession.NewPortAllocator(client, logger, appCfg.SIPConfig.RTPPortRangeStart, appCfg.SIPConfig.RTPPortRangeEnd)
	if err := allocator.Init(context.Background()); err != nil {
		logger.Error("voicecore: redis port pool init failed, falling back to single-instance allocator", "error", err)
		return rtpsession.NewLocalPortAllocator(appCfg.SIPConfig.RTPPortRangeStart, appCfg.SIPConfig.RTPPortRangeEnd)
	}
	return allocator
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hostedMediaStreamHandler upgrades one HTTP connection per call and drives
// it to completion via the media bridge's hosted-call path (spec.md §6.2).
// The agent configuration here is a placeholder default; a deployment
// fronting this core with a hosted provider supplies its own per-call
// lookup (by callee number, routing header, etc.) in place of this stub.
func hostedMediaStreamHandler(logger logging.Logger, bridge *mediabridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("voicecore: websocket upgrade failed", "error", err)
			return
		}
		conn := mediastream.NewConn(ws, logger)

		cfg := defaultHostedAgentConfig()
		if err := bridge.HandleHostedCall(r.Context(), conn, cfg, "hosted-default"); err != nil {
			logger.Warn("voicecore: hosted call ended with error", "error", err)
		}
	}
}

func defaultHostedAgentConfig() callmodel.AgentConfig {
	return callmodel.AgentConfig{
		Model: callmodel.ModelConfig{
			Provider:     "anthropic",
			ModelName:    "claude-sonnet-4-5",
			SystemPrompt: "You are a helpful phone assistant. Keep replies brief.",
			Temperature:  0.7,
			MaxTokens:    512,
		},
		Voice: callmodel.VoiceConfig{
			Provider:     "elevenlabs",
			VoiceID:      "21m00Tcm4TlvDq8ikWAM",
			TTSModelID:   "eleven_turbo_v2_5",
			OutputFormat: "ulaw_8000",
		},
		Transcriber: callmodel.TranscriberConfig{
			Provider:   "deepgram",
			ModelName:  "nova-2",
			Encoding:   "mulaw",
			SampleRate: 8000,
		},
		FirstMessageMode: callmodel.AssistantSpeaksFirst,
		FirstMessage:     "Hi, how can I help you today?",
	}
}
