package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailfleet/internal/dns"
	"github.com/foxzi/mailfleet/internal/dnscheck"
)

var (
	domainCheckJSON    bool
	domainCheckTimeout time.Duration
)

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Sending domain commands",
}

var domainCheckCmd = &cobra.Command{
	Use:   "check <domain>...",
	Short: "Check whether domains are ready to host inboxes",
	Long: `Check MX, SPF and DMARC records for each domain.

A domain is ready when it has MX records and an SPF record.
The command exits non-zero when any domain is not ready.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDomainCheck,
}

func init() {
	domainCheckCmd.Flags().BoolVar(&domainCheckJSON, "json", false, "Print results as JSON")
	domainCheckCmd.Flags().DurationVar(&domainCheckTimeout, "timeout", 30*time.Second, "Overall lookup timeout")

	domainCmd.AddCommand(domainCheckCmd)
	rootCmd.AddCommand(domainCmd)
}

func runDomainCheck(cmd *cobra.Command, args []string) error {
	ttl := time.Duration(0)
	if cfgFile != "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl = cfg.DNS.CacheTTL
	}

	ctx, cancel := context.WithTimeout(context.Background(), domainCheckTimeout)
	defer cancel()

	checker := dnscheck.NewChecker(dns.NewResolver(ttl, nil))
	results := checker.CheckDomains(ctx, args)
	if len(results) == 0 {
		return fmt.Errorf("no domains given")
	}

	if domainCheckJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printDomainChecks(os.Stdout, results)
	}

	notReady := 0
	for _, res := range results {
		if !res.Ready {
			notReady++
		}
	}
	if notReady > 0 {
		return fmt.Errorf("%d of %d domain(s) not ready", notReady, len(results))
	}
	return nil
}

func printDomainChecks(out io.Writer, results []*dnscheck.DomainCheckResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tREADY\tMX\tSPF\tDMARC")
	for _, res := range results {
		if res.Error != "" {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", res.Domain, "invalid")
			continue
		}
		ready := "no"
		if res.Ready {
			ready = "yes"
		}
		fmt.Fprintf(w, "%s\t%s", res.Domain, ready)
		for _, r := range res.Results {
			fmt.Fprintf(w, "\t%s", r.Status)
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	for _, res := range results {
		for _, r := range res.Results {
			if r.Status != dnscheck.StatusOK && r.Message != "" {
				fmt.Fprintf(out, "%s: %s: %s\n", res.Domain, r.Type, r.Message)
			}
		}
	}
}
