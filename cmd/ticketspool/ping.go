package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orrn/ticketspool/internal/printer"
)

func newPingCmd(opts *rootOptions) *cobra.Command {
	var (
		ip     string
		port   int
		status bool
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the printer accepts TCP connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if ip != "" {
				cfg.Printer.IP = ip
			}
			if port != 0 {
				cfg.Printer.Port = port
			}

			out := cmd.OutOrStdout()
			if err := printer.Ping(cmd.Context(), cfg.Printer.IP, cfg.Printer.Port, cfg.Printer.PingTimeout); err != nil {
				fmt.Fprintf(out, "%s:%d unreachable\n", cfg.Printer.IP, cfg.Printer.Port)
				return err
			}
			fmt.Fprintf(out, "%s:%d reachable\n", cfg.Printer.IP, cfg.Printer.Port)

			if !status {
				return nil
			}

			st, err := printer.NewClient(cfg.Printer).CheckStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read printer status: %w", err)
			}
			problems := "none"
			if len(st.Problems) > 0 {
				problems = strings.Join(st.Problems, ", ")
			}
			fmt.Fprintf(out, "online: %t  can print: %t  problems: %s\n", st.Online, st.CanPrint, problems)
			return nil
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "printer IP (defaults to the configured one)")
	cmd.Flags().IntVar(&port, "port", 0, "printer port (defaults to the configured one)")
	cmd.Flags().BoolVar(&status, "status", false, "also query the printer's status bytes")
	return cmd
}
