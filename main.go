// examgate - proctored exam platform with supervised chat AI access.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/examgate/internal/chat"
	"github.com/jeranaias/examgate/internal/config"
	"github.com/jeranaias/examgate/internal/push"
	"github.com/jeranaias/examgate/internal/security"
	"github.com/jeranaias/examgate/internal/server"
	"github.com/jeranaias/examgate/internal/session"
	"github.com/jeranaias/examgate/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (TOML or JSON)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("examgate %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		log.Printf("FATAL | err=%v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cipher, err := security.NewKeyCipher(cfg.Security.Secret, []byte(cfg.Security.KeySalt))
	if err != nil {
		return fmt.Errorf("failed to build key cipher: %w", err)
	}
	signer, err := security.NewTicketSigner(cfg.Security.Secret,
		time.Duration(cfg.Security.TicketMaxAgeMinutes)*time.Minute)
	if err != nil {
		return fmt.Errorf("failed to build ticket signer: %w", err)
	}

	hub := push.NewHub()
	sessions := session.NewManager()
	manager := chat.NewManager(st, hub)
	if err := registerBackends(cfg, manager, st); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start chat manager: %w", err)
	}
	defer manager.Stop()

	// Config edits trigger model rediscovery; backend registration
	// itself is fixed for the process lifetime.
	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(_ *config.Config) {
				if err := manager.Rediscover(ctx); err != nil {
					log.Printf("REDISCOVERY_ERROR | err=%v", err)
				}
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("CONFIG_WATCH_STOPPED | err=%v", err)
			}
		}()
	}

	srv := server.New(cfg, st, manager, hub, sessions, cipher, signer)
	log.Printf("EXAMGATE_START | version=%s addr=%s", Version, cfg.Server.Addr)
	return srv.Run(ctx)
}

// registerBackends wires the configured chat adapters into the manager.
// The store doubles as the conversation history source remote backends
// replay on each turn.
func registerBackends(cfg *config.Config, manager *chat.Manager, st *store.Store) error {
	if cfg.Chats.CopyPaste.Enabled {
		h := chat.NewCopyPasteHandler(cfg.Chats.CopyPaste.Name, manager.Queue())
		if err := manager.Register(h); err != nil {
			return err
		}
	}
	if cfg.Chats.LocalAI.Enabled {
		h := chat.NewLocalAIHandler(cfg.Chats.LocalAI.Name, cfg.Chats.LocalAI.URL, manager.Queue())
		if err := manager.Register(h); err != nil {
			return err
		}
	}
	if cfg.Chats.OpenAI.Enabled {
		models := make([]chat.OpenAIModel, 0, len(cfg.Chats.OpenAI.Models))
		for _, m := range cfg.Chats.OpenAI.Models {
			models = append(models, chat.OpenAIModel{Key: m.Key, Name: m.Name})
		}
		h := chat.NewOpenAIHandler(cfg.Chats.OpenAI.Name, cfg.Chats.OpenAI.URL, models, manager.Queue(), st,
			chat.WithOpenAIPoolSize(cfg.Chats.OpenAI.PoolSize),
			chat.WithOpenAITemperature(cfg.Chats.OpenAI.Temperature),
			chat.WithOpenAIHistoryDepth(cfg.Chats.OpenAI.HistoryDepth),
		)
		if err := manager.Register(h); err != nil {
			return err
		}
	}
	return nil
}
