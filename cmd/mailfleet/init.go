package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/mailfleet/internal/config"
)

var (
	initOutput     string
	initDataDir    string
	initListenAddr string
	initAPIKey     string
	initHashKey    bool
	initMetrics    bool
	initForce      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Mailfleet configuration",
	Long: `Create a Mailfleet configuration file.

Values not given as flags are prompted for.

Examples:
  # Interactive mode
  mailfleet init

  # Non-interactive, store only the bcrypt hash of the API key
  mailfleet init --data-dir ./data --hash-key --metrics -o mailfleet.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/mailfleet", "Data directory for the order database")
	initCmd.Flags().StringVar(&initListenAddr, "listen", ":8080", "API listen address")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initHashKey, "hash-key", false, "Store a bcrypt hash of the API key instead of the key")
	initCmd.Flags().BoolVar(&initMetrics, "metrics", false, "Enable the Prometheus metrics endpoint")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Mailfleet Configuration Wizard")
	fmt.Println("==============================")
	fmt.Println()

	if !cmd.Flags().Changed("data-dir") {
		initDataDir = prompt(reader, "Data directory", initDataDir)
	}
	if !cmd.Flags().Changed("listen") {
		initListenAddr = prompt(reader, "API listen address", initListenAddr)
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	keyHash := ""
	if initHashKey {
		hash, err := bcrypt.GenerateFromPassword([]byte(initAPIKey), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash API key: %w", err)
		}
		keyHash = string(hash)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(keyHash)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	// Catch template mistakes before the user runs serve
	if _, err := config.Load(initOutput); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	printNextSteps()

	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// generateConfig renders the config file. A non-empty keyHash replaces the plain API key.
func generateConfig(keyHash string) string {
	apiKey := fmt.Sprintf(`  api_key: "%s"`, initAPIKey)
	if keyHash != "" {
		apiKey = fmt.Sprintf(`  api_key_hash: "%s"`, keyHash)
	}

	return fmt.Sprintf(`# Mailfleet configuration
# Generated by: mailfleet init

api:
  listen_addr: "%s"
%s
  max_header_bytes: 1048576  # 1 MB
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  # allowed_ips:
  #   - "10.0.0.0/8"

storage:
  path: "%s"

allocation:
  min_inboxes: 10
  max_inboxes: 2000

rate_limit:
  enabled: false
  global:
    inboxes_per_day: 10000
  per_ip:
    inboxes_per_hour: 500
  # tiers:
  #   microsoft:
  #     inboxes_per_day: 1000

dns:
  cache_ttl: 5m

metrics:
  enabled: %t
  listen_addr: ":9090"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"

logging:
  level: "info"
  format: "json"
`,
		initListenAddr,
		apiKey,
		filepath.Join(initDataDir, "mailfleet.db"),
		initMetrics,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Start the server:")
	fmt.Printf("   mailfleet serve -c %s\n", initOutput)
	fmt.Println()
	fmt.Println("2. Ask for a quote:")
	fmt.Printf("   curl -X POST http://localhost%s/api/v1/quotes \\\n", initListenAddr)
	fmt.Printf("     -H \"Authorization: Bearer %s\" \\\n", initAPIKey)
	fmt.Println("     -H \"Content-Type: application/json\" \\")
	fmt.Println(`     -d '{"tier": "edu", "total_inboxes": 47}'`)
	fmt.Println()
	fmt.Println("Credentials")
	fmt.Println("-----------")
	fmt.Printf("API Key: %s\n", initAPIKey)
	if initHashKey {
		fmt.Println("Only the bcrypt hash is stored in the config; keep this key safe.")
	}
	fmt.Println()
}
