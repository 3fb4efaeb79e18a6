// ABOUTME: init subcommand writing a starter config file interactively
// ABOUTME: Generates a JWT secret and prompts for capability, Slack and dashboard settings

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/tubeagent/internal/config"
)

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	httpAddr       string
	dbPath         string
	jwtSecret      string
	provider       string
	baseURL        string
	videoURL       string
	model          string
	slackEnabled   bool
	slackBotToken  string
	dashboardTitle string
	logLevel       string
	logFormat      string
	metricsEnabled bool
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("tubeagent configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	defaultConfigPath := configPath()
	defaultDbPath := filepath.Join(config.DataDir(), "tubeagent.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.httpAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.dbPath = prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Authentication ---")
	if yes(prompt(reader, "Require API tokens?", "yes")) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		a.jwtSecret = secret
	}

	fmt.Println("\n--- AI Capability ---")
	a.provider = prompt(reader, "Provider (mock/http)", config.ProviderMock)
	if a.provider == config.ProviderHTTP {
		a.baseURL = prompt(reader, "Chat completions base URL", "https://openrouter.ai/api/v1")
		a.videoURL = prompt(reader, "Video service URL", "http://localhost:9000")
		a.model = prompt(reader, "Model", "anthropic/claude-3-haiku")
	}

	fmt.Println("\n--- Slack ---")
	a.slackEnabled = yes(prompt(reader, "Enable Slack bot?", "no"))
	if a.slackEnabled {
		a.slackBotToken = prompt(reader, "Bot token (or ${ENV_VAR})", "${SLACK_BOT_TOKEN}")
	}

	fmt.Println("\n--- Dashboard & Logging ---")
	a.dashboardTitle = prompt(reader, "Dashboard title", "tubeagent")
	a.metricsEnabled = yes(prompt(reader, "Expose Prometheus metrics?", "yes"))
	a.logLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.logFormat = prompt(reader, "Log format (text/json)", "text")

	content := renderConfig(a)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// 0600: the file holds the JWT secret
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  tubeagent serve")
	if a.jwtSecret != "" {
		fmt.Println("\nTo mint a token:")
		fmt.Println("  tubeagent token --user web:alice --name Alice")
	}

	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# tubeagent configuration\n")
	cfg.WriteString("# Generated by tubeagent init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", a.dbPath)

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", a.jwtSecret)

	cfg.WriteString("capability:\n")
	fmt.Fprintf(&cfg, "  provider: %q\n", a.provider)
	if a.provider == config.ProviderHTTP {
		fmt.Fprintf(&cfg, "  base_url: %q\n", a.baseURL)
		fmt.Fprintf(&cfg, "  video_url: %q\n", a.videoURL)
		cfg.WriteString("  api_key: \"${TUBEAGENT_API_KEY}\"\n")
		fmt.Fprintf(&cfg, "  model: %q\n", a.model)
	}
	cfg.WriteString("\n")

	cfg.WriteString("conversation:\n")
	cfg.WriteString("  history_turns: 10\n")
	cfg.WriteString("  reply_timeout: \"45s\"\n\n")

	cfg.WriteString("jobs:\n")
	cfg.WriteString("  poll_interval: \"15s\"\n")
	cfg.WriteString("  max_polls: 120\n\n")

	cfg.WriteString("frontends:\n")
	cfg.WriteString("  slack:\n")
	fmt.Fprintf(&cfg, "    enabled: %t\n", a.slackEnabled)
	if a.slackEnabled {
		fmt.Fprintf(&cfg, "    bot_token: %q\n", a.slackBotToken)
	}
	cfg.WriteString("\n")

	cfg.WriteString("dashboard:\n")
	cfg.WriteString("  enabled: true\n")
	fmt.Fprintf(&cfg, "  title: %q\n\n", a.dashboardTitle)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", a.logFormat)

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.metricsEnabled)
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

// generateSecret returns 32 random bytes hex encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
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
