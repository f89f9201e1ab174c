// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	callsignal "github.com/StorXNetwork/CallSignal/signal"
	"github.com/StorXNetwork/CallSignal/signal/push"
	"github.com/StorXNetwork/CallSignal/signal/rediscalls"
)

var (
	rootCmd = &cobra.Command{
		Use:   "callsignal",
		Short: "Call signaling service coordinating multi-device call acceptance",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the call signaling service",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create config files",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	confDir string
)

// Config holds the full service configuration.
type Config struct {
	Address string            `yaml:"address" mapstructure:"address"`
	Redis   rediscalls.Config `yaml:"redis" mapstructure:"redis"`
	Push    push.Config       `yaml:"push" mapstructure:"push"`
}

func defaultConfig() Config {
	return Config{
		Address: ":8080",
		Redis: rediscalls.Config{
			URL:              "redis://localhost:6379/0",
			DialTimeout:      5 * time.Second,
			ReadTimeout:      5 * time.Second,
			WriteTimeout:     5 * time.Second,
			MaxAcceptRetries: 5,
		},
		Push: push.Config{},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confDir, "config-dir", ".", "main directory for callsignal configuration")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L()

	config, err := loadConfig(confDir)
	if err != nil {
		log.Error("Failed to load configuration", zap.Error(err))
		return errs.New("Failed to load configuration: %+v", err)
	}

	if config.Address == "" {
		return errs.New("Address is not configured. Please set the address in your config file or the CALLSIGNAL_ADDRESS environment variable.")
	}
	if err := config.Redis.Validate(); err != nil {
		log.Error("Invalid redis configuration", zap.Error(err))
		return errs.New("Invalid redis configuration: %+v", err)
	}

	store, err := rediscalls.Open(ctx, log.Named("rediscalls"), config.Redis)
	if err != nil {
		log.Error("Failed to connect to redis", zap.Error(err))
		return errs.New("Failed to connect to redis: %+v", err)
	}
	defer func() {
		err = errs.Combine(err, store.Close())
	}()

	dispatcher, err := push.NewDispatcher(ctx, log.Named("push"), config.Push)
	if err != nil {
		log.Error("Failed to create push dispatcher", zap.Error(err))
		return errs.New("Failed to create push dispatcher: %+v", err)
	}

	service := callsignal.NewService(log.Named("signal"), store, dispatcher)

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return errs.New("Failed to listen on %s: %+v", config.Address, err)
	}

	server := callsignal.NewServer(log.Named("server"), listener, service)

	log.Info("Starting call signaling service",
		zap.String("address", listener.Addr().String()),
		zap.Bool("push_enabled", config.Push.Enabled))

	return server.Run(ctx)
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	configPath := filepath.Join(setupDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return errs.New("callsignal configuration already exists (%v)", configPath)
	}

	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return errs.Wrap(err)
	}

	data, err := yaml.Marshal(defaultConfig())
	if err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(os.WriteFile(configPath, data, 0600))
}

// loadConfig reads config.yaml from confDir, layered under CALLSIGNAL_*
// environment variables.
func loadConfig(confDir string) (*Config, error) {
	vip := viper.New()
	vip.SetEnvPrefix("callsignal")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	defaults := defaultConfig()
	vip.SetDefault("address", defaults.Address)
	vip.SetDefault("redis.url", defaults.Redis.URL)
	vip.SetDefault("redis.dial_timeout", defaults.Redis.DialTimeout)
	vip.SetDefault("redis.read_timeout", defaults.Redis.ReadTimeout)
	vip.SetDefault("redis.write_timeout", defaults.Redis.WriteTimeout)
	vip.SetDefault("redis.max_accept_retries", defaults.Redis.MaxAcceptRetries)

	configPath := filepath.Join(confDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			return nil, errs.Wrap(err)
		}
	}

	var config Config
	if err := vip.Unmarshal(&config); err != nil {
		return nil, errs.Wrap(err)
	}
	return &config, nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
