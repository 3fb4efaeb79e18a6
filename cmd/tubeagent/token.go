// ABOUTME: token subcommand minting JWTs for users and bridges
// ABOUTME: Signs with the configured auth.jwt_secret

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/2389/tubeagent/internal/auth"
	"github.com/2389/tubeagent/internal/config"
)

type tokenArgs struct {
	user string
	name string
	kind string
	ttl  time.Duration
}

func parseTokenArgs(args []string) (*tokenArgs, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var ta tokenArgs
	fs.StringVar(&ta.user, "user", "", "user id (token subject)")
	fs.StringVar(&ta.name, "name", "", "display name")
	fs.StringVar(&ta.kind, "kind", auth.KindUser, "user or bridge")
	fs.DurationVar(&ta.ttl, "ttl", 30*24*time.Hour, "lifetime, 0 for no expiry")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	ta.user = strings.TrimSpace(ta.user)
	if ta.user == "" {
		return nil, errors.New("--user is required")
	}
	if ta.kind != auth.KindUser && ta.kind != auth.KindBridge {
		return nil, fmt.Errorf("--kind must be %q or %q", auth.KindUser, auth.KindBridge)
	}
	if ta.ttl < 0 {
		return nil, errors.New("--ttl must not be negative")
	}
	return &ta, nil
}

func runToken(args []string, out io.Writer) error {
	ta, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured; tokens are not needed in development mode")
	}

	return mintToken(cfg.Auth.JWTSecret, ta, out)
}

func mintToken(secret string, ta *tokenArgs, out io.Writer) error {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(ta.user, ta.name, ta.kind, ta.ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	_, err = fmt.Fprintln(out, token)
	return err
}
