package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/notify-core/internal/auth"
	"github.com/nerrad567/notify-core/internal/infrastructure/config"
	"github.com/nerrad567/notify-core/internal/infrastructure/database"
	"github.com/nerrad567/notify-core/internal/infrastructure/logging"
)

// minPasswordLength matches the API's user creation rule.
const minPasswordLength = 8

// loadForCommand loads configuration for the maintenance commands. Logs go
// to stderr so stdout carries only the command's output.
func loadForCommand(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.NewWithWriter(cfg.Logging, version, cmd.ErrOrStderr()), nil
}

// ─── migrate ───────────────────────────────────────────────────────

func newMigrateCmd() *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrate.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, false, func(ctx context.Context, db *database.DB) error {
					if err := db.Migrate(ctx); err != nil {
						return fmt.Errorf("running migrations: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, false, func(ctx context.Context, db *database.DB) error {
					if err := db.MigrateDown(ctx); err != nil {
						return fmt.Errorf("rolling back migration: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back one migration")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDatabase(cmd, false, func(ctx context.Context, db *database.DB) error {
					return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
				})
			},
		},
	)
	return migrate
}

func printMigrationStatus(ctx context.Context, w io.Writer, db *database.DB) error {
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(w, "applied  %s  %s\n", r.Version, r.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// withDatabase opens the configured database for one command. When migrate
// is set, pending migrations are applied first.
func withDatabase(cmd *cobra.Command, migrate bool, fn func(context.Context, *database.DB) error) error {
	cfg, log, err := loadForCommand(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var db *database.DB
	if migrate {
		db, err = openDatabase(ctx, cfg.Database, log)
	} else {
		db, err = database.Open(ctx, cfg.Database)
	}
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // command exits afterwards

	return fn(ctx, db)
}

// ─── token ─────────────────────────────────────────────────────────

func newTokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue broker credentials",
	}

	token.AddCommand(
		&cobra.Command{
			Use:   "backend",
			Short: "Print a token for the service's own broker principal",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				issuer, err := tokenIssuer(cmd)
				if err != nil {
					return err
				}
				tok, err := issuer.IssueBackendToken()
				if err != nil {
					return err
				}
				return printToken(cmd.OutOrStdout(), tok)
			},
		},
		&cobra.Command{
			Use:   "user USER_ID",
			Short: "Print a subscribe-only token for a user's namespace",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				issuer, err := tokenIssuer(cmd)
				if err != nil {
					return err
				}
				tok, err := issuer.IssueUserToken(args[0])
				if err != nil {
					return err
				}
				return printToken(cmd.OutOrStdout(), tok)
			},
		},
	)
	return token
}

func tokenIssuer(cmd *cobra.Command) (*auth.TokenIssuer, error) {
	cfg, _, err := loadForCommand(cmd)
	if err != nil {
		return nil, err
	}
	return auth.NewTokenIssuer(cfg.Security.JWT.Secret, time.Duration(cfg.Security.JWT.BrokerTokenTTL)*time.Minute), nil
}

func printToken(w io.Writer, tok auth.Token) error {
	_, err := fmt.Fprintf(w, "%s\nsubject: %s\nexpires: %s\n", tok.Raw, tok.Subject, tok.ExpiresAt.Format(time.RFC3339))
	return err
}

// ─── user ──────────────────────────────────────────────────────────

func newUserCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Args:  cobra.NoArgs,
		RunE:  runUserCreate,
	}
	create.Flags().String("username", "", "login name (required)")
	create.Flags().String("password", "", "password, at least 8 characters (required)")
	create.Flags().String("display-name", "", "display name")
	create.Flags().String("role", string(auth.RoleUser), "role: user or admin")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")

	user.AddCommand(create)
	return user
}

func runUserCreate(cmd *cobra.Command, _ []string) error {
	username, _ := cmd.Flags().GetString("username")       //nolint:errcheck // flag is defined
	password, _ := cmd.Flags().GetString("password")       //nolint:errcheck // flag is defined
	displayName, _ := cmd.Flags().GetString("display-name") //nolint:errcheck // flag is defined
	role, _ := cmd.Flags().GetString("role")               //nolint:errcheck // flag is defined

	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	if !auth.IsValidRole(auth.Role(role)) {
		return fmt.Errorf("invalid role %q: must be user or admin", role)
	}

	return withDatabase(cmd, true, func(ctx context.Context, db *database.DB) error {
		hash, err := auth.HashPassword(password)
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		if displayName == "" {
			displayName = username
		}

		u := &auth.User{
			Username:     username,
			DisplayName:  displayName,
			PasswordHash: hash,
			Role:         auth.Role(role),
			IsActive:     true,
		}
		if err := auth.NewUserRepository(db.DB).Create(ctx, u); err != nil {
			if errors.Is(err, auth.ErrUsernameExists) {
				return fmt.Errorf("user %q already exists", username)
			}
			return fmt.Errorf("creating user: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", u.Role, u.Username, u.ID)
		return nil
	})
}
