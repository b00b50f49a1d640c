package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"unfurl/internal/config"
)

var (
	configDir string
	cfg       config.Config
	log       = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "unfurl",
	Short: "Fetch and cache link previews",
	Long: `unfurl fetches title, description, site name and preview image for links,
keeping both the metadata and the images cached on disk so repeated lookups
stay off the network.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configDir)
		if err != nil {
			return err
		}
		setupLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./configs", "directory holding config.yaml")
}

func setupLogger(cfg config.Config) {
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stderr)
	lvl, _ := cfg.Level()
	log.SetLevel(lvl)
	log.WithFields(logrus.Fields{
		"store_driver":  cfg.StoreDriver,
		"image_dir":     cfg.ImageCacheDir,
		"page_renderer": cfg.PageRenderer,
	}).Debug("Configuration loaded successfully")
}
