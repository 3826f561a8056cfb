// cmd/displaylink/scan.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/display-link/internal/link"
	"github.com/tamzrod/display-link/internal/protocol"
)

func newScanCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby displays",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			tr, err := buildTransport(cfg, protocol.NewCodec(limits(cfg)), log)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.Link.ScanTimeout()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			devs, err := scan(ctx, tr, timeout)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tRSSI")
			for _, d := range devs {
				fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, d.DisplayName, d.SignalStrength)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Scan window (default from config)")
	return cmd
}

// scan collects one discovery window, strongest signal first.
func scan(ctx context.Context, tr link.Transport, timeout time.Duration) ([]link.DeviceRecord, error) {
	ch, err := tr.Scan(ctx, timeout)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]link.DeviceRecord)
	for rec := range ch {
		seen[rec.ID] = rec
	}

	out := make([]link.DeviceRecord, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SignalStrength != out[j].SignalStrength {
			return out[i].SignalStrength > out[j].SignalStrength
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
