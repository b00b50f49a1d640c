package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"unfurl/internal/domain"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Print the preview metadata of links as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().Duration("interval", 0, "serve stored metadata younger than this (default UPDATE_INTERVAL)")
	fetchCmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the network per link")
	rootCmd.AddCommand(fetchCmd)
}

// metadataView is the JSON shape printed by fetch.
type metadataView struct {
	Reference    string `json:"reference"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	SiteName     string `json:"site_name,omitempty"`
	PageType     string `json:"page_type,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	CanonicalURL string `json:"canonical_url,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newMetadataView(reference string, m domain.Metadata, err error) metadataView {
	v := metadataView{Reference: reference}
	if err != nil {
		v.Error = err.Error()
		return v
	}
	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	v.Title = str(m.Title)
	v.Description = str(m.Description)
	v.SiteName = str(m.SiteName)
	v.PageType = str(m.PageType)
	if m.ImageURL != nil {
		v.ImageURL = m.ImageURL.String()
	}
	if m.CanonicalURL != nil {
		v.CanonicalURL = m.CanonicalURL.String()
	}
	return v
}

func runFetch(cmd *cobra.Command, args []string) error {
	interval, _ := cmd.Flags().GetDuration("interval")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	svc, err := newServices(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	failed := 0
	for _, reference := range args {
		ctx, cancel := contextWithTimeout(cmd, timeout)
		m, err := svc.metadata.Get(ctx, reference, interval)
		cancel()
		if err != nil {
			failed++
		}
		if err := enc.Encode(newMetadataView(reference, m, err)); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d links failed", failed, len(args))
	}
	return nil
}
