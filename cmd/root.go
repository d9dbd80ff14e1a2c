// Package cmd wires the cobra command tree: a root command with
// persistent config/logging setup (PersistentPreRunE, the same hook
// the teacher uses) and the pull/list/rm/inspect leaves from
// cmd/images.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/importd/dkrimport/cmd/core"
	cmdimages "github.com/importd/dkrimport/cmd/images"
	"github.com/importd/dkrimport/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "dkrimport",
		Short:        "Pull v1 Docker registry images into a local layer store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmdcore.CommandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "image store root directory")
	cmd.PersistentFlags().String("index-url", "", "registry index base URL")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("index_url", cmd.PersistentFlags().Lookup("index-url"))

	viper.SetEnvPrefix("DKRIMPORT")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }
	base := cmdcore.BaseHandler{ConfProvider: confProvider}
	for _, c := range cmdimages.Command(cmdimages.Handler{BaseHandler: base}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		// No config file is OK; a corrupt/unreadable one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if !cmdcore.IsURL(conf.IndexURL) {
		return fmt.Errorf("index url %q is not a valid http(s) URL", conf.IndexURL)
	}

	if conf.HTTPTimeout <= 0 {
		conf.HTTPTimeout = 30 * time.Second //nolint:mnd
	}

	return log.SetupLog(ctx, conf.Log, "")
}
