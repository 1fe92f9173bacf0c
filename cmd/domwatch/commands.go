package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/domwatch/internal/dom"
	"codeberg.org/mutker/domwatch/internal/journal"
	"codeberg.org/mutker/domwatch/internal/notify"
	"codeberg.org/mutker/domwatch/internal/poller"
	"codeberg.org/mutker/domwatch/internal/telemetry"
	"github.com/spf13/cobra"
)

// interfaceDump is one row of "domwatch get".
type interfaceDump struct {
	Interface     string   `json:"interface"`
	LinkStatus    string   `json:"linkStatus"`
	Description   string   `json:"description"`
	InterfaceType string   `json:"interfaceType"`
	Bandwidth     int64    `json:"bandwidth"`
	TxPower       *float64 `json:"txPower"`
	RxPower       *float64 `json:"rxPower"`
	TxBias        *float64 `json:"txBias"`
	Temperature   *float64 `json:"temperature"`
	Voltage       *float64 `json:"voltage"`
	VendorSerial  string   `json:"vendorSn"`
	MediaType     string   `json:"mediaType"`
}

func newGetCommand() *cobra.Command {
	asJSON := false

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch one set of interface readings and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := commandContext(cmd)
			defer stop()

			source := telemetry.NewEAPIClient(cfg.EAPI)
			links, err := source.FetchLinkStatuses(ctx)
			if err != nil {
				return err
			}

			ids := poller.MonitoredIDs(links, cfg.InterfacePrefix)
			readings, uptime, err := source.FetchTransceiverReadings(ctx, ids)
			if err != nil {
				return err
			}

			rows := make([]interfaceDump, 0, len(ids))
			for _, id := range ids {
				xcvr := readings[id]
				rows = append(rows, interfaceDump{
					Interface:     id,
					LinkStatus:    links[id].Status,
					Description:   links[id].Description,
					InterfaceType: links[id].InterfaceType,
					Bandwidth:     links[id].Bandwidth,
					TxPower:       valueOf(xcvr.TxPower),
					RxPower:       valueOf(xcvr.RxPower),
					TxBias:        valueOf(xcvr.TxBias),
					Temperature:   valueOf(xcvr.Temperature),
					Voltage:       valueOf(xcvr.Voltage),
					VendorSerial:  xcvr.VendorSerial,
					MediaType:     xcvr.MediaType,
				})
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), uptime, rows)
			}
			return writeTable(cmd.OutOrStdout(), uptime, rows)
		},
	}

	getCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	return getCmd
}

func valueOf(m telemetry.Measurement) *float64 {
	if !m.Ok() {
		return nil
	}
	v := m.Value
	return &v
}

func writeJSON(w io.Writer, uptime int64, rows []interfaceDump) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		BootupTimestamp int64           `json:"bootupTimestamp"`
		Interfaces      []interfaceDump `json:"interfaces"`
	}{uptime, rows})
}

func writeTable(w io.Writer, uptime int64, rows []interfaceDump) error {
	fmt.Fprintf(w, "bootupTimestamp: %d\n\n", uptime)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERFACE\tLINK\tTYPE\tTX dBm\tRX dBm\tBIAS mA\tTEMP C\tVOLTS\tSERIAL\tMEDIA")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Interface, r.LinkStatus, r.InterfaceType,
			formatPower(r.TxPower), formatPower(r.RxPower),
			formatValue(r.TxBias, 2), formatValue(r.Temperature, 1), formatValue(r.Voltage, 2),
			r.VendorSerial, r.MediaType)
	}
	return tw.Flush()
}

func formatPower(v *float64) string {
	return formatValue(v, 4)
}

func formatValue(v *float64, prec int) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func newTrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trap",
		Short: "Send a sample drift alert through the configured notifiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			notifier, err := buildNotifier(cfg)
			if err != nil {
				return err
			}
			defer notifier.Close()

			ctx, stop := commandContext(cmd)
			defer stop()

			now := time.Now()
			sample := dom.Alert{
				Direction:    dom.RX,
				Interface:    "Ethernet1",
				VendorSerial: "XKE000000000",
				Baseline:     -5.4035,
				BaselineTime: now.Add(-time.Minute),
				Value:        -8.0382,
				Time:         now,
			}

			for _, args := range notifier.Args() {
				fmt.Fprintln(cmd.OutOrStdout(), args)
			}

			return notifier.Notify(ctx, notify.Notification{
				Message:   sample.String(),
				Severity:  notify.SeverityWarning,
				Interface: sample.Interface,
				Direction: string(sample.Direction),
				Time:      now,
			})
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			out, err := cfg.Dump()
			if err != nil {
				return err
			}

			if cfg.ConfigFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.ConfigFile)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newAlertsCommand() *cobra.Command {
	limit := 20

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List the most recent journaled notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			j, err := journal.Open(cfg.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			ctx, stop := commandContext(cmd)
			defer stop()

			entries, err := j.Recent(ctx, limit)
			if err != nil {
				return err
			}

			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-7s %s\n", e.Time.Format(dom.TimeLayout), e.Severity, e.Message)
			}
			return nil
		},
	}

	alertsCmd.Flags().IntVarP(&limit, "limit", "n", limit, "Number of entries to show")

	return alertsCmd
}
