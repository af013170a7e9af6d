package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"gwi.com/apex-chat/internal/auth"
	"gwi.com/apex-chat/internal/config"
	"gwi.com/apex-chat/internal/logging"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "apex-chat",
		Usage:   "Chat backend that stores conversation threads and answers with Gemini",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from TOML `FILE`",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from `FILE` instead of ./.env",
			},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Migrate the store and serve the HTTP API",
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Create the SQLite schema and exit",
				Action: runMigrate,
			},
			{
				Name:  "token",
				Usage: "Print an HS256 bearer token for AUTH_MODE=jwt",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "userId to put in the token subject", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 24 * time.Hour},
				},
				Action: runToken,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and sets up logging from it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	if cfg.StoreDriver != config.StoreSQLite {
		log.Info().Str("driver", cfg.StoreDriver).Msg("Store driver has no schema to migrate")
		return nil
	}
	s, err := openSQLite(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer s.Close()
	log.Info().Str("database", cfg.DatabaseURL).Msg("Schema is up to date")
	return nil
}

func runToken(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	token, err := auth.GenerateJWT(cfg.JWTSecret, c.String("user"), c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}
