package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"unfurl/internal/bot"
	"unfurl/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram preview bot",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Duration("reply-timeout", 20*time.Second, "how long a reply waits for the network")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	replyTimeout, _ := cmd.Flags().GetDuration("reply-timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Initializing components...")
	svc, err := newServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	handler, err := bot.NewHandler(cfg.TelegramBotToken, svc.metadata, svc.images, replyTimeout, log)
	if err != nil {
		return err
	}

	// SIGUSR1 stands in for the host's low-memory notification.
	lowMemory := make(chan struct{}, 1)
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				select {
				case lowMemory <- struct{}{}:
				default:
				}
			}
		}
	}()
	go svc.cache.WatchLowMemory(ctx, lowMemory)

	if scheduler := scheduleGC(svc.store); scheduler != nil {
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	polling := make(chan struct{})
	go func() {
		defer close(polling)
		handler.Start(ctx)
	}()
	log.Info("unfurl is running. Press Ctrl+C to exit.")

	<-ctx.Done()
	log.Info("Shutting down unfurl...")
	<-polling
	return nil
}

// scheduleGC returns a cron running the store's garbage collection, or nil
// when the store has none or no schedule is configured.
func scheduleGC(store storage.Store) *cron.Cron {
	gc, ok := store.(storage.GarbageCollector)
	if !ok || cfg.GCSchedule == "" {
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(cfg.GCSchedule, func() {
		if err := gc.RunGC(); err != nil {
			log.WithError(err).Error("Store garbage collection failed")
			return
		}
		log.Debug("Store garbage collection finished")
	})
	if err != nil {
		log.WithError(err).WithField("schedule", cfg.GCSchedule).Error("Invalid GC_SCHEDULE, garbage collection disabled")
		return nil
	}
	return c
}
