// ABOUTME: Entry point for the tubeagent server
// ABOUTME: Subcommands to serve, write a config, mint tokens and check health

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/tubeagent/internal/config"
	"github.com/2389/tubeagent/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _         _                                _
 | |_ _   _| |__   ___  __ _  __ _  ___ _ __ | |_
 | __| | | | '_ \ / _ \/ _' |/ _' |/ _ \ '_ \| __|
 | |_| |_| | |_) |  __/ (_| | (_| |  __/ | | | |_
  \__|\__,_|_.__/ \___|\__,_|\__, |\___|_| |_|\__|
                             |___/
`

func configPath() string {
	return config.FilePath("TUBEAGENT_CONFIG", "config.yaml")
}

func usage() {
	fmt.Println("Usage: tubeagent <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  token --user ID [--name NAME]  Mint an API token (--kind bridge for bridges)")
	fmt.Println("  health                         Check server health")
	fmt.Println("  ready                          Check server readiness")
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
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
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
	path := configPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	yellow := color.New(color.FgYellow)

	model := cfg.Capability.Model
	if cfg.Capability.Provider == config.ProviderMock {
		model = yellow.Sprint("mock")
	}
	info := [][2]string{
		{"Config", path},
		{"HTTP", cfg.Server.HTTPAddr},
		{"Capability", model},
	}
	if cfg.Frontends.Slack.Enabled {
		info = append(info, [2]string{"Slack", "/slack/events"})
	}
	printInfo(info)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled (development mode)")
	}
	fmt.Println()

	logger.Info("starting tubeagent",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"provider", cfg.Capability.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runProbe requests a health endpoint of the configured server.
func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

// printInfo prints aligned "▶ label: value" startup lines.
func printInfo(lines [][2]string) {
	green := color.New(color.FgGreen)
	for _, l := range lines {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", l[0]+":", l[1])
	}
}
