package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/mailfleet/internal/allocation"
)

var (
	planFile string
	planJSON bool

	quoteTier      string
	quoteInboxes   int
	quotePerDomain int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan an allocation without storing it",
	Long: `Read an allocation request from a YAML file, distribute the inboxes
and print the plan. Nothing is written to storage.

Example request:
  tier: reseller
  source_mode: own
  total_inboxes: 30
  personas:
    - first_name: Jane
      last_name: Doe
  provided_domains:
    - example.com
    - example.net`,
	RunE: runPlan,
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Estimate how many domains a quantity needs",
	RunE:  runQuote,
}

func init() {
	planCmd.Flags().StringVarP(&planFile, "file", "f", "", "Request file (YAML)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
	planCmd.MarkFlagRequired("file")

	quoteCmd.Flags().StringVar(&quoteTier, "tier", "", "Product tier (reseller, edu, legacy, prewarmed, aws, microsoft)")
	quoteCmd.Flags().IntVar(&quoteInboxes, "inboxes", 0, "Number of inboxes")
	quoteCmd.Flags().IntVar(&quotePerDomain, "per-domain", 0, "Inboxes per domain override")
	quoteCmd.MarkFlagRequired("tier")
	quoteCmd.MarkFlagRequired("inboxes")

	rootCmd.AddCommand(planCmd, quoteCmd)
}

// loadRequest reads an allocation request from a YAML file
func loadRequest(path string) (allocation.Request, error) {
	var req allocation.Request

	data, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("failed to read request file: %w", err)
	}

	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("failed to parse request file: %w", err)
	}

	return req, nil
}

// distributor uses the configured order-size bounds when a config is given
func distributor() (*allocation.Distributor, error) {
	if cfgFile == "" {
		return allocation.NewDistributor(allocation.DefaultPolicy()), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return allocation.NewDistributor(cfg.Policy()), nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	req, err := loadRequest(planFile)
	if err != nil {
		return err
	}

	dist, err := distributor()
	if err != nil {
		return err
	}

	res, err := dist.Distribute(req)
	if err != nil {
		return fmt.Errorf("allocation failed: %w", err)
	}
	if err := allocation.Validate(res); err != nil {
		return fmt.Errorf("allocation failed validation: %w", err)
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	printPlan(os.Stdout, res)
	return nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	dist, err := distributor()
	if err != nil {
		return err
	}

	var override *int
	if cmd.Flags().Changed("per-domain") {
		override = &quotePerDomain
	}

	res, err := dist.Estimate(allocation.Tier(quoteTier), quoteInboxes, override)
	if err != nil {
		return fmt.Errorf("quote failed: %w", err)
	}

	fmt.Printf("Domains needed: %d\n", res.DomainsNeeded)
	fmt.Printf("Per domain:     %d\n", res.Capacity)
	fmt.Printf("\n%s\n", res.Message)
	return nil
}

// printPlan writes a human-readable plan
func printPlan(out io.Writer, res *allocation.Result) {
	if !res.ShouldCreateInboxes {
		fmt.Fprintf(out, "Domains needed: %d (%d per domain)\n", res.DomainsNeeded, res.Capacity)
		fmt.Fprintf(out, "%s\n", res.Message)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tPERSONA\tDOMAIN\tSLOT")
	fmt.Fprintln(w, "-----\t-------\t------\t----")
	for _, a := range res.Allocations {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", a.Email, a.Persona, a.Domain, a.Slot)
	}
	w.Flush()

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tDOMAIN\tINBOXES")
	fmt.Fprintln(w, "----\t------\t-------")
	for i, d := range res.DomainsUsed {
		count := 0
		if i < len(res.DomainInboxes) {
			count = res.DomainInboxes[i]
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", i, d, count)
	}
	w.Flush()

	byPersona := res.ByPersona()
	names := make([]string, 0, len(byPersona))
	for name := range byPersona {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out)
	for _, name := range names {
		fmt.Fprintf(out, "%-24s %d inboxes\n", name, byPersona[name])
	}

	fmt.Fprintf(out, "\n%s\n", res.Message)
}
