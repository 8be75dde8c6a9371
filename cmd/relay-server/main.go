package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/config"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/gateway"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/provider"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "relay-server",
		Short:         "Streaming relay in front of an Ollama-compatible backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.New(configFile)
			if err := v.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
				return err
			}
			if err := v.BindPFlag("log_level", cmd.Flags().Lookup("log-level")); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				log.WithError(err).Error("Invalid configuration")
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default ./relay.yaml)")
	cmd.Flags().IntP("port", "p", config.DefaultPort, "listen port")
	cmd.Flags().String("log-level", "info", "log level")
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if err := config.ConfigureLogging(cfg.LogLevel, os.Stdout); err != nil {
		return err
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	backend := provider.NewClient(cfg.OllamaURL, cfg.OllamaTimeout, nil)
	handler := gateway.NewHandler(backend, gateway.Options{
		Routes:            cfg.Routes(),
		SystemInstruction: cfg.SystemInstruction,
		Timeout:           cfg.OllamaTimeout,
		PriorityFields:    cfg.PriorityFields,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           gateway.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"port":       cfg.Port,
			"ollama_url": cfg.OllamaURL,
			"fast":       cfg.Fast.Model,
			"slow":       cfg.Slow.Model,
		}).Info("Relay server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Server failed")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
