// ABOUTME: Entry point for the tubeagent Matrix bridge
// ABOUTME: Lets Matrix room members chat with tubeagent and receive finished videos

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/tubeagent/internal/config"
)

const banner = `
  _         _                                    _        _
 | |_ _  _ | |__  ___  __ _  ___  _ _  | |_   _ __  __ _| |_ _ _ (_)__ __
 |  _| || || '_ \/ -_)/ _' |/ -_)| ' \ |  _| | '  \/ _' |  _| '_|| |\ \ /
  \__|\_,_||_.__/\___|\__,_|\___||_||_| \__| |_|_|_\__,_|\__|_|  |_|/_\_\
`

func configPath() string {
	return config.FilePath("TUBEAGENT_MATRIX_CONFIG", "matrix-bridge.toml")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	path := configPath()

	cfg, err := Load(path)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", path, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	for _, line := range [][2]string{
		{"Config", path},
		{"Homeserver", cfg.Matrix.Homeserver},
		{"Username", cfg.Matrix.Username},
		{"Gateway", cfg.Gateway.URL},
	} {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", line[0]+":", line[1])
	}
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	// crypto setup needs the device ID from login
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, bridge.UserID(), cfg.Matrix.RecoveryKey, config.DataDir(), logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func runInit(in io.Reader) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	reader := bufio.NewReader(in)
	ask := func(question, defaultVal string) string {
		green.Print("    ▶ ")
		if defaultVal != "" {
			fmt.Printf("%s [%s]: ", question, defaultVal)
		} else {
			fmt.Printf("%s: ", question)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return defaultVal
		}
		return answer
	}

	path := configPath()
	if _, err := os.Stat(path); err == nil {
		yellow.Printf("    Config already exists at %s\n", path)
		if strings.ToLower(ask("Overwrite? [y/N]", "")) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	content := renderConfig(
		ask("Matrix homeserver URL", "https://matrix.org"),
		ask("Matrix username", ""),
		ask("Matrix password", ""),
		ask("Matrix recovery key (optional, for E2EE)", ""),
		ask("tubeagent URL", "http://localhost:8080"),
		ask("Bridge token (from 'tubeagent token --kind bridge')", "${TUBEAGENT_BRIDGE_TOKEN}"),
		ask("Command prefix (optional, e.g. '!video ')", ""),
	)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", path)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: tubeagent-matrix")
	fmt.Println()

	return nil
}

func renderConfig(homeserver, username, password, recoveryKey, gatewayURL, token, prefix string) string {
	var b strings.Builder
	b.WriteString("# tubeagent-matrix bridge configuration\n")
	b.WriteString("# Generated by tubeagent-matrix init\n\n")

	b.WriteString("[matrix]\n")
	fmt.Fprintf(&b, "homeserver = %q\n", homeserver)
	fmt.Fprintf(&b, "username = %q\n", username)
	fmt.Fprintf(&b, "password = %q\n", password)
	if recoveryKey != "" {
		fmt.Fprintf(&b, "recovery_key = %q\n", recoveryKey)
	}

	b.WriteString("\n[gateway]\n")
	fmt.Fprintf(&b, "url = %q\n", gatewayURL)
	fmt.Fprintf(&b, "token = %q\n", token)
	b.WriteString("poll_interval = \"15s\"\n")

	b.WriteString("\n[bridge]\n")
	b.WriteString("# Only respond in these rooms (empty = all joined rooms)\n")
	b.WriteString("allowed_rooms = []\n")
	b.WriteString("# Require messages start with this prefix (empty = respond to all)\n")
	fmt.Fprintf(&b, "command_prefix = %q\n", prefix)
	b.WriteString("typing_indicator = true\n")

	b.WriteString("\n[logging]\n")
	b.WriteString("level = \"info\"\n")
	return b.String()
}
