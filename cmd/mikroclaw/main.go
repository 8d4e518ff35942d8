// ABOUTME: Entry point for the mikroclaw gateway
// ABOUTME: Serves the pairing, task and conversation control plane and inspects its journal

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/mikroclaw/mikroclaw/internal/config"
	"github.com/mikroclaw/mikroclaw/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
           _ _                 _
 _ __ ___ (_) | ___ __ ___   ___| | __ ___      __
| '_ ' _ \| | |/ / '__/ _ \ / __| |/ _' \ \ /\ / /
| | | | | | |   <| | | (_) | (__| | (_| |\ V  V /
|_| |_| |_|_|_|\_\_|  \___/ \___|_|\__,_| \_/\_/
`

// getConfigPath returns the path to the gateway config file.
// Priority: MIKROCLAW_CONFIG env var > XDG_CONFIG_HOME/mikroclaw/gateway.yaml > ~/.config/mikroclaw/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MIKROCLAW_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "mikroclaw", "gateway.yaml")
}

// loadConfig loads the config file, or the environment alone when the file
// does not exist. It returns the path actually used, empty for env-only.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "", nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func usage() {
	fmt.Println("Usage: mikroclaw <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the gateway server")
	fmt.Println("  init                   Create a new config file interactively")
	fmt.Println("  health                 Check gateway health")
	fmt.Println("  history [--limit N]    Show finished tasks from the journal")
	fmt.Println("  audit [flags]          Show admission audit log (--event, --ip, --since, --limit)")
	fmt.Println("  version                Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "history":
		err = runHistory(ctx, os.Args[2:])
	case "audit":
		err = runAudit(ctx, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	if configPath != "" {
		fmt.Printf("Config:    %s\n", configPath)
	} else {
		fmt.Printf("Config:    environment only\n")
	}
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Journal:   %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Workers:   %d (queue %d)\n", cfg.Tasks.MaxWorkers, cfg.Tasks.MaxTasks)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.PairingRequired {
		green.Print("    ▶ ")
		yellow.Println("Pairing required for all routes")
	}

	fmt.Println()

	logger.Info("starting mikroclaw",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// The RouterOS device, LLM and memory clients are not part of this
	// binary. With no collaborators only skill_invoke is registered, the
	// conversation route answers 503 and /health reports device, llm and
	// memory as false. Programs embedding the gateway pass their clients
	// through gateway.Collaborators.
	gw, err := gateway.New(cfg, gateway.Collaborators{}, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	select {
	case <-gw.Ready():
		if err := printPairing(os.Stdout, gw.PairingCode(), gw.Addr().String(), cfg.Auth.QRPath); err != nil {
			logger.Warn("printing pairing code", "error", err)
		}
	case err := <-errCh:
		return err
	}

	return <-errCh
}

// healthURL turns a listen address into something a local client can dial.
func healthURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/health", addr)
	}
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return fmt.Sprintf("http://%s/health", net.JoinHostPort(host, port))
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mikroclaw configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	fmt.Println("\n--- Auth Configuration ---")
	a.PairingRequired = isYes(prompt(reader, "Require pairing for all routes?", "yes"))
	a.TokenTTL = prompt(reader, "Token lifetime", config.DefaultTokenTTL.String())

	fmt.Println("\n--- Task Configuration ---")
	a.MaxWorkers = prompt(reader, "Max concurrent workers", fmt.Sprint(config.DefaultMaxWorkers))
	a.SkillsDir = prompt(reader, "Skills directory", config.DefaultSkillsDir)

	fmt.Println("\n--- Database Configuration ---")
	a.DatabasePath = prompt(reader, "SQLite journal path", config.DefaultDatabasePath())

	fmt.Println("\n--- Tailscale Configuration ---")
	a.Tailscale = isYes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TailscaleHostname = prompt(reader, "Tailscale hostname", config.DefaultTailscaleHost)
		a.TailscaleAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TailscaleEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		a.TailscaleHTTPS = isYes(prompt(reader, "Serve HTTPS with Tailscale certs?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", config.DefaultLogLevel)
	a.LogFormat = prompt(reader, "Log format (text/json)", config.DefaultLogFormat)

	cfg, err := newInitConfig(a)
	if err != nil {
		return err
	}
	data, err := encodeConfig(outputFile, cfg)
	if err != nil {
		return err
	}
	if _, err := config.Parse(outputFile, data); err != nil {
		return fmt.Errorf("config not written: %w", err)
	}

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  mikroclaw serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
