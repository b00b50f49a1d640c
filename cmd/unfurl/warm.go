package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var warmCmd = &cobra.Command{
	Use:   "warm [url...]",
	Short: "Prefetch metadata and preview images for many links",
	Long: `warm fetches metadata and the preview image for every link given as an
argument, or read one per line from stdin when no arguments are given.`,
	RunE: runWarm,
}

func init() {
	warmCmd.Flags().IntP("concurrency", "c", 4, "links fetched in parallel")
	warmCmd.Flags().Duration("timeout", 30*time.Second, "per-link wait before moving on")
	rootCmd.AddCommand(warmCmd)
}

func readReferences(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	var refs []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	return refs, scanner.Err()
}

func runWarm(cmd *cobra.Command, args []string) error {
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	refs, err := readReferences(args)
	if err != nil {
		return fmt.Errorf("failed to read links: %w", err)
	}

	svc, err := newServices(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(concurrency, 1))
	for _, reference := range refs {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			entry := log.WithField("reference", reference)

			m, err := svc.metadata.Get(ctx, reference, 0)
			if err != nil {
				failed.Add(1)
				entry.WithError(err).Warn("Metadata not warmed")
				return nil
			}
			if m.ImageURL != nil {
				if _, err := svc.images.Get(ctx, m.ImageURL.String()); err != nil {
					entry.WithError(err).WithField("image_url", m.ImageURL.String()).Warn("Image not warmed")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{"links": len(refs), "failed": failed.Load()}).Info("Warm finished")
	fmt.Fprintf(cmd.OutOrStdout(), "warmed %d of %d links\n", len(refs)-int(failed.Load()), len(refs))
	return nil
}
