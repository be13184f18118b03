package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mirror/internal/infra"
	"mirror/internal/infra/credentials"
)

func main() {
	_ = godotenv.Load()

	var (
		tokenFlag string
		noteFlag  string
		showFlag  bool
	)
	flag.StringVar(&tokenFlag, "token", "", "Replicate API token (falls back to REPLICATE_API_TOKEN)")
	flag.StringVar(&noteFlag, "note", "", "optional note stored with the token")
	flag.BoolVar(&showFlag, "show", false, "print the stored token, masked, and exit")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "replicatekey").Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	defer pool.Close()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if showFlag {
		stored, err := store.ReplicateToken(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read token")
		}
		if stored == "" {
			fmt.Println("no replicate token stored")
			return
		}
		fmt.Println(mask(stored))
		return
	}

	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		token = cfg.ReplicateAPIToken
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "Replicate API token is required via -token or REPLICATE_API_TOKEN")
		os.Exit(1)
	}
	props := map[string]any{"set_at": time.Now().UTC().Format(time.RFC3339)}
	if note := strings.TrimSpace(noteFlag); note != "" {
		props["note"] = note
	}
	if err := store.SetReplicateToken(ctx, token, props); err != nil {
		logger.Fatal().Err(err).Msg("failed to persist replicate token")
	}
	fmt.Printf("stored replicate token %s; running servers pick it up within %s\n", mask(token), cfg.TokenRefresh)
}

// mask keeps the r8_ prefix and the last four characters.
func mask(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:3] + strings.Repeat("*", len(token)-7) + token[len(token)-4:]
}
