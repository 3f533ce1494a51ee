package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/edusql/edusql/internal/cli/edusqlctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("EDUSQL_CLI_TIMEOUT")), 60*time.Second)
	options := edusqlctl.Options{
		BaseURL:    envOr("EDUSQL_API_URL", "http://localhost:8080"),
		APIKey:     strings.TrimSpace(os.Getenv("EDUSQL_API_KEY")),
		CallerID:   strings.TrimSpace(os.Getenv("EDUSQL_CALLER_ID")),
		CallerRole: strings.TrimSpace(os.Getenv("EDUSQL_CALLER_ROLE")),
		Timeout:    timeout,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}

	code := edusqlctl.Run(context.Background(), os.Args[1:], options)
	os.Exit(code)
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid EDUSQL_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
