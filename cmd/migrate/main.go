package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"bazaar.org/internal/auth"
	"bazaar.org/internal/ids"
	"bazaar.org/internal/migrate"
	"bazaar.org/internal/obs"
	"bazaar.org/internal/store/pg"
	"bazaar.org/migrations"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		dsn            string
		migrationsPath string
		seedsPath      string
		email          string
		timeout        time.Duration
	)
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", os.Getenv("BAZAAR_STORAGE_DSN"), "PostgreSQL DSN")
	flagSet.StringVar(&migrationsPath, "migrations", "", "directory of SQL migrations (default: embedded)")
	flagSet.StringVar(&seedsPath, "seeds", "", "directory of SQL seed files")
	flagSet.StringVar(&email, "email", "", "bootstrap-admin: administrator email")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|status|pending|seed|bootstrap-admin")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if dsn == "" {
		return errors.New("missing DSN: provide via --dsn or BAZAAR_STORAGE_DSN")
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return errors.New("exactly one command is required")
	}

	log := obs.New(os.Getenv("BAZAAR_ENVIRONMENT"), os.Getenv("BAZAAR_LOGLEVEL"))
	obs.SetLogger(log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, err := pg.Open(dsn, pg.PoolConfig{MaxOpen: 2, MaxIdle: 1})
	if err != nil {
		return err
	}
	defer store.Close()

	var source fs.FS
	if migrationsPath != "" {
		source = os.DirFS(migrationsPath)
	} else if source, err = fs.Sub(migrations.FS, "sql"); err != nil {
		return err
	}
	var opts []migrate.Option
	if seedsPath != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(seedsPath)))
	}
	mgr := migrate.NewManager(store.DB(), source, opts...)

	switch cmd := flagSet.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			log.Info().Str("migration", name).Msg("applied")
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info().Msg("schema is up to date")
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return err
		}
		log.Info().Str("migration", name).Msg("rolled back")
	case "status", "pending":
		var names []string
		if cmd == "status" {
			names, err = mgr.Status(ctx)
		} else {
			names, err = mgr.Pending(ctx)
		}
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
	case "seed":
		return mgr.Seed(ctx)
	case "bootstrap-admin":
		password := os.Getenv("BAZAAR_BOOTSTRAP_PASSWORD")
		if email == "" || password == "" {
			return errors.New("bootstrap-admin needs --email and BAZAAR_BOOTSTRAP_PASSWORD")
		}
		id, err := bootstrapAdmin(ctx, store, email, password)
		if err != nil {
			return err
		}
		log.Info().Str("identity_id", id).Str("email", email).Msg("super admin ready")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// bootstrapAdmin registers email (or reuses the existing identity) and makes
// its profile an active super_admin.
func bootstrapAdmin(ctx context.Context, store *pg.Store, email, password string) (string, error) {
	passwords, err := auth.NewPasswordChecker(store)
	if err != nil {
		return "", err
	}
	var identityID string
	rec, err := passwords.Register(ctx, email, password)
	switch {
	case err == nil:
		identityID = rec.ID
	case errors.Is(err, auth.ErrConflict):
		existing, lookupErr := store.IdentityByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if lookupErr != nil {
			return "", lookupErr
		}
		identityID = existing.ID
	default:
		return "", err
	}

	now := time.Now().UTC()
	profile, err := store.ProfileByOwner(ctx, identityID)
	if errors.Is(err, auth.ErrNotFound) {
		p := auth.Profile{
			ID:        ids.NewAt(now),
			OwnerID:   identityID,
			Role:      auth.RoleSuperAdmin,
			Status:    auth.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return identityID, store.CreateProfile(ctx, &p)
	}
	if err != nil {
		return "", err
	}
	profile.Role = auth.RoleSuperAdmin
	profile.Status = auth.StatusActive
	profile.Blocked = false
	profile.UpdatedAt = now
	return identityID, store.UpdateProfile(ctx, profile)
}
