package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pthm/hxstream"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree with its own viper instance, so tests
// can run commands side by side.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("HXSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfgFile string
	root := &cobra.Command{
		Use:   "hxstream",
		Short: "Stream YAML page trees as server-rendered HTML",
		Long: `hxstream renders page trees described in YAML files, either to stdout
or over HTTP, streaming Suspense boundaries as their delays elapse.

Every flag can also be set in the config file or as an HXSTREAM_* environment
variable (HXSTREAM_CHUNK_SIZE for --chunk-size).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if cfgFile == "" {
				return nil
			}
			v.SetConfigFile(cfgFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(newRenderCmd(v), newServeCmd(v), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hxstream version %s\n", version)
		},
	}
}

// addRenderFlags registers the flags shared by render and serve.
func addRenderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("prefix", "", "identifier prefix for generated ids")
	f.String("nonce", "", "CSP nonce for inline scripts")
	f.StringSlice("bootstrap", nil, "bootstrap script URLs")
	f.StringSlice("bootstrap-module", nil, "bootstrap module URLs")
	f.String("external-runtime", "", "load the instruction runtime from this URL instead of inlining it")
	f.Bool("dev", false, "send error messages and stacks to the client")
	f.Int("chunk-size", 0, "outline ready boundaries larger than this many bytes (negative disables)")
	f.String("secret", "", "secret for error digests and resume tokens")
}

// renderOptions turns the configuration into render options.
func renderOptions(v *viper.Viper, logger *slog.Logger) []hxstream.Option {
	opts := []hxstream.Option{hxstream.WithLogger(logger)}
	if s := v.GetString("prefix"); s != "" {
		opts = append(opts, hxstream.WithIdentifierPrefix(s))
	}
	if s := v.GetString("nonce"); s != "" {
		opts = append(opts, hxstream.WithNonce(s))
	}
	if srcs := v.GetStringSlice("bootstrap"); len(srcs) > 0 {
		opts = append(opts, hxstream.WithBootstrapScripts(srcs...))
	}
	if srcs := v.GetStringSlice("bootstrap-module"); len(srcs) > 0 {
		opts = append(opts, hxstream.WithBootstrapModules(srcs...))
	}
	if s := v.GetString("external-runtime"); s != "" {
		opts = append(opts, hxstream.WithExternalRuntime(s))
	}
	if v.GetBool("dev") {
		opts = append(opts, hxstream.WithDevelopment())
	}
	if n := v.GetInt("chunk-size"); n != 0 {
		opts = append(opts, hxstream.WithProgressiveChunkSize(n))
	}
	if s := v.GetString("secret"); s != "" {
		opts = append(opts, hxstream.WithSecret([]byte(s)))
	}
	return opts
}

func newLogger(v *viper.Viper, cmd *cobra.Command) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})), nil
}
