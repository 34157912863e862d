package cmd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andy963/ads/internal/authdb"
	"github.com/andy963/ads/internal/config"
	"github.com/andy963/ads/internal/dbutil"
)

func initAdminCmd() *cobra.Command {
	var username, password string
	c := &cobra.Command{
		Use:   "init-admin",
		Short: "Create the first admin user in the global auth database",
		Run: func(cmd *cobra.Command, args []string) {
			runInitAdmin(username, password)
		},
	}
	c.Flags().StringVar(&username, "username", "admin", "username for the new account")
	c.Flags().StringVar(&password, "password", "", "password for the new account (generated and printed if omitted)")
	return c
}

func resetAdminCmd() *cobra.Command {
	var username, password string
	c := &cobra.Command{
		Use:   "reset-admin",
		Short: "Reset an existing user's password",
		Run: func(cmd *cobra.Command, args []string) {
			runResetAdmin(username, password)
		},
	}
	c.Flags().StringVar(&username, "username", "admin", "username whose password should be reset")
	c.Flags().StringVar(&password, "password", "", "new password (generated and printed if omitted)")
	return c
}

func openAuthDB(cfg *config.Config) (*authdb.DB, error) {
	sqlDB, err := dbutil.Open(cfg.Database.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return authdb.Open(context.Background(), sqlDB, authdb.Options{Pepper: cfg.Gateway.SessionPepper})
}

func runInitAdmin(username, password string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ads: load config: %v\n", err)
		os.Exit(2)
	}

	auth, err := openAuthDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ads: open auth db: %v\n", err)
		os.Exit(2)
	}

	if password == "" {
		password, err = generatePassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ads: generate password: %v\n", err)
			os.Exit(2)
		}
	}

	ctx := context.Background()
	now := time.Now()
	if _, err := auth.CreateUser(ctx, uuid.NewString(), username, password, now); err != nil {
		if errors.Is(err, authdb.ErrUsernameTaken) {
			fmt.Fprintf(os.Stderr, "ads: user %q already exists; use 'ads reset-admin' to change its password\n", username)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "ads: create user: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("created user %q\n", username)
	fmt.Printf("password: %s\n", password)
}

func runResetAdmin(username, password string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ads: load config: %v\n", err)
		os.Exit(2)
	}

	auth, err := openAuthDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ads: open auth db: %v\n", err)
		os.Exit(2)
	}

	if password == "" {
		password, err = generatePassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ads: generate password: %v\n", err)
			os.Exit(2)
		}
	}

	ctx := context.Background()
	if err := auth.SetPassword(ctx, username, password, time.Now()); err != nil {
		if errors.Is(err, authdb.ErrUserNotFound) {
			fmt.Fprintf(os.Stderr, "ads: no such user %q\n", username)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "ads: reset password: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("password reset for %q\n", username)
	fmt.Printf("password: %s\n", password)
}

// generatePassword returns a random URL-safe password, for init-admin/
// reset-admin runs that don't pass --password explicitly.
func generatePassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
