// Command seed ensures the bootstrap accounts exist and can log in with the
// default password.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/school-records/school_records/internal/account"
	"github.com/school-records/school_records/internal/config"
	"github.com/school-records/school_records/internal/infra"
	"github.com/school-records/school_records/internal/logging"
)

const defaultPassword = "admin123"

var bootstrapAccounts = []account.NewIdentity{
	{Username: "admin", Email: "admin@school.com", FirstName: "System", LastName: "Administrator", Role: account.RoleAdmin},
	{Username: "teacher1", Email: "teacher1@school.com", FirstName: "John", LastName: "Smith", Role: account.RoleTeacher},
	{Username: "student1", Email: "student1@school.com", FirstName: "Jane", LastName: "Doe", Role: account.RoleStudent},
	{Username: "parent1", Email: "parent1@school.com", FirstName: "Robert", LastName: "Doe", Role: account.RoleParent},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.AppName+"-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("seed failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := infra.OpenAccountStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// The bootstrap password predates the policy, so the policy stays off here.
	svc := account.NewService(store, account.WithLogger(logger))
	for _, acct := range bootstrapAccounts {
		if err := ensure(ctx, svc, acct, logger); err != nil {
			return fmt.Errorf("ensure %s: %w", acct.Username, err)
		}
	}
	return nil
}

// ensure creates the account when missing and resets its password when the
// stored hash no longer verifies.
func ensure(ctx context.Context, svc *account.Service, acct account.NewIdentity, logger *slog.Logger) error {
	existing, err := svc.Lookup(ctx, acct.Username)
	switch {
	case errors.Is(err, account.ErrNotFound):
		if _, err := svc.CreateIdentity(ctx, acct, defaultPassword); err != nil {
			return err
		}
		logger.Info("bootstrap account created", "username", acct.Username, "role", string(acct.Role))
		return nil
	case err != nil:
		return err
	}

	if !existing.Active {
		logger.Warn("bootstrap account is deactivated, leaving it alone", "username", acct.Username)
		return nil
	}
	if _, err := svc.Authenticate(ctx, acct.Username, defaultPassword); err == nil {
		return nil
	} else if !errors.Is(err, account.ErrAuthFailed) {
		return err
	}
	if err := svc.UpdatePassword(ctx, existing.ID, defaultPassword); err != nil {
		return err
	}
	logger.Info("bootstrap account password reset", "username", acct.Username)
	return nil
}
