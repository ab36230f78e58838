package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pior/couchbase"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "cbctl",
	Short: "Couchbase command line client",
	Long: `cbctl talks to a Couchbase cluster: document operations on a bucket,
view queries and bucket administration.

Every flag can also be set with a CB_ prefixed environment variable
(CB_HOST, CB_PASSWORD, ...), read from .env and .env.local when present.`,
	SilenceUsage:      true,
	PersistentPreRunE: bindFlags,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("host", "localhost:8091", "management API address of a cluster node")
	flags.String("username", "", "cluster or bucket user name")
	flags.String("password", "", "password of the user")
	flags.String("bucket", "default", "bucket to operate on")
	flags.Duration("timeout", 2500*time.Millisecond, "timeout of key-value operations")
	flags.Duration("http-timeout", 75*time.Second, "timeout of REST and view requests")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(kvCommands()...)
	rootCmd.AddCommand(bucketCmd)
}

// initConfig loads env files and environment variables into viper.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("cb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", viper.GetString("log-level"))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func newClient() (*couchbase.Client, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	return couchbase.NewClient(
		viper.GetString("host"),
		viper.GetString("username"),
		viper.GetString("password"),
		couchbase.Config{
			Timeout:     viper.GetDuration("timeout"),
			HTTPTimeout: viper.GetDuration("http-timeout"),
			Logger:      logger,
		},
	)
}

// withBucket opens the configured bucket for the duration of fn.
func withBucket(fn func(b *couchbase.Bucket) error) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	b, err := client.Bucket(viper.GetString("bucket"))
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}
