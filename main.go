package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/Elpepit0/site-tchat-visio/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	serve := func(cmd *cobra.Command, _ []string) error {
		if err := readConfigFile(v, cfgFile); err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		os.Exit(runServer(cfg))
		return nil
	}

	root := &cobra.Command{
		Use:          "tchat",
		Short:        "Real-time chat and WebRTC signaling relay",
		SilenceUsage: true,
		RunE:         serve,
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server (default)",
		RunE:  serve,
	})

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.Int("port", 3000, "HTTP port")
	flags.String("static-dir", "static", "directory of the single page application")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("state-backend", "memory", "shared state backend: memory, redis")
	flags.String("fanout-backend", "eventbus", "delivery fan-out backend: eventbus, redis, nats")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("nats-url", "", "external NATS URL for the nats fan-out backend")
	flags.String("db-path", "tchat.db", "SQLite database of user accounts")

	for key, flag := range map[string]string{
		config.KeyPort:          "port",
		config.KeyStaticDir:     "static-dir",
		config.KeyLogLevel:      "log-level",
		config.KeyLogFormat:     "log-format",
		config.KeyStateBackend:  "state-backend",
		config.KeyFanoutBackend: "fanout-backend",
		config.KeyRedisAddr:     "redis-addr",
		config.KeyNATSURL:       "nats-url",
		config.KeyDBPath:        "db-path",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			log.Fatalf("Failed to bind flag %s: %v", flag, err)
		}
	}
	return root
}

// readConfigFile loads an explicit config file, or ./tchat.yaml when present.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	log.Printf("Using config file: %s", v.ConfigFileUsed())
	return nil
}
