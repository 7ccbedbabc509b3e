package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailfleet/internal/allocation"
	"github.com/foxzi/mailfleet/internal/fulfillment"
)

var (
	orderListStatus string
	orderListTier   string
	orderListLimit  int
	orderListOffset int

	orderFile    string
	orderDomains []string
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Order management commands",
}

var orderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orders",
	RunE:  runOrderList,
}

var orderShowCmd = &cobra.Command{
	Use:   "show <order_id>",
	Short: "Show order details and domains",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderShow,
}

var orderInboxesCmd = &cobra.Command{
	Use:   "inboxes <order_id>",
	Short: "List the inboxes of an order",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderInboxes,
}

var orderFulfillCmd = &cobra.Command{
	Use:   "fulfill",
	Short: "Plan a request file and store it as an order",
	RunE:  runOrderFulfill,
}

var orderResumeCmd = &cobra.Command{
	Use:   "resume <order_id>",
	Short: "Fulfill an order awaiting domains",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderResume,
}

var orderDeleteCmd = &cobra.Command{
	Use:   "delete <order_id>",
	Short: "Delete an order and release its addresses",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrderDelete,
}

func init() {
	orderListCmd.Flags().StringVar(&orderListStatus, "status", "", "Filter by status (awaiting_domains, fulfilled)")
	orderListCmd.Flags().StringVar(&orderListTier, "tier", "", "Filter by tier")
	orderListCmd.Flags().IntVar(&orderListLimit, "limit", 50, "Maximum number of orders to show")
	orderListCmd.Flags().IntVar(&orderListOffset, "offset", 0, "Number of orders to skip")

	orderFulfillCmd.Flags().StringVarP(&orderFile, "file", "f", "", "Request file (YAML)")
	orderFulfillCmd.MarkFlagRequired("file")

	orderResumeCmd.Flags().StringSliceVarP(&orderDomains, "domain", "d", nil, "Domain to use (repeatable)")
	orderResumeCmd.MarkFlagRequired("domain")

	orderCmd.AddCommand(orderListCmd, orderShowCmd, orderInboxesCmd, orderFulfillCmd, orderResumeCmd, orderDeleteCmd)
	rootCmd.AddCommand(orderCmd)
}

// openService opens storage from the config file. The caller closes the store.
func openService() (*fulfillment.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := fulfillment.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return fulfillment.NewService(store, allocation.NewDistributor(cfg.Policy()), logger), nil
}

func runOrderList(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Store().Close()

	filter := fulfillment.ListFilter{
		Status: fulfillment.OrderStatus(orderListStatus),
		Limit:  orderListLimit,
		Offset: orderListOffset,
	}
	if orderListTier != "" {
		tier, err := allocation.ParseTier(orderListTier)
		if err != nil {
			return err
		}
		filter.Tier = tier
	}

	orders, err := svc.ListOrders(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	if len(orders) == 0 {
		fmt.Println("No orders found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIER\tSTATUS\tINBOXES\tDOMAINS\tCREATED")
	fmt.Fprintln(w, "--\t----\t------\t-------\t-------\t-------")

	for _, o := range orders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			o.ID,
			o.Tier,
			o.Status,
			o.TotalInboxes,
			o.DomainsNeeded,
			o.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d orders\n", len(orders))

	return nil
}

func runOrderShow(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Store().Close()

	ctx := context.Background()

	order, err := svc.GetOrder(ctx, args[0])
	if err != nil {
		return err
	}

	printOrder(order)

	domains, err := svc.ListDomains(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	if len(domains) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tDOMAIN\tINBOXES")
	fmt.Fprintln(w, "----\t------\t-------")
	for _, d := range domains {
		fmt.Fprintf(w, "%d\t%s\t%d\n", d.Slot, d.Name, d.InboxCount)
	}
	w.Flush()

	return nil
}

func runOrderInboxes(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Store().Close()

	inboxes, err := svc.ListInboxes(context.Background(), args[0])
	if err != nil {
		return err
	}

	if len(inboxes) == 0 {
		fmt.Println("Order has no inboxes yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tFIRST NAME\tLAST NAME\tDOMAIN")
	fmt.Fprintln(w, "-----\t----------\t---------\t------")
	for _, in := range inboxes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", in.Email, in.FirstName, in.LastName, in.Domain)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d inboxes\n", len(inboxes))

	return nil
}

func runOrderFulfill(cmd *cobra.Command, args []string) error {
	req, err := loadRequest(orderFile)
	if err != nil {
		return err
	}

	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Store().Close()

	order, err := svc.Fulfill(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to fulfill order: %w", err)
	}

	printOrder(order)
	return nil
}

func runOrderResume(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Store().Close()

	order, err := svc.Resume(context.Background(), args[0], orderDomains)
	if err != nil {
		return fmt.Errorf("failed to resume order: %w", err)
	}

	printOrder(order)
	return nil
}

func runOrderDelete(cmd *cobra.Command, args []string) error {
	svc, err := openService()
	if err != nil {
		return err
	}
	defer svc.Store().Close()

	if err := svc.DeleteOrder(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	fmt.Printf("Order %s deleted\n", args[0])
	return nil
}

func printOrder(o *fulfillment.Order) {
	fmt.Printf("Order: %s\n\n", o.ID)
	fmt.Printf("Status:         %s\n", o.Status)
	fmt.Printf("Tier:           %s\n", o.Tier)
	fmt.Printf("Source:         %s\n", o.SourceMode)
	fmt.Printf("Inboxes:        %d\n", o.TotalInboxes)
	fmt.Printf("Domains needed: %d\n", o.DomainsNeeded)
	if o.InboxesPerDomain != nil {
		fmt.Printf("Per domain:     %d\n", *o.InboxesPerDomain)
	}
	fmt.Printf("Created:        %s\n", o.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:        %s\n", o.UpdatedAt.Format(time.RFC3339))

	fmt.Println("\nPersonas:")
	for _, p := range o.Personas {
		fmt.Printf("  %s\n", p)
	}

	if o.Message != "" {
		fmt.Printf("\n%s\n", o.Message)
	}
}
