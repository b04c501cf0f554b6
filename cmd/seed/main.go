// Package main seeds the achievement catalog with the stock NextFit
// achievements. Entries are matched by code, so running it twice is safe and
// entries edited by an administrator are left alone.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Xeideverme/galpao/config"
	"github.com/Xeideverme/galpao/internal/bootstrap"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

func main() {
	secret := flag.String("secret-code", os.Getenv("SEED_SECRET_CODE"), "code that unlocks the hidden achievement")
	dryRun := flag.Bool("dry-run", false, "report what would be created without writing")
	flag.Parse()

	if err := run(context.Background(), *secret, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, secret string, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := bootstrap.NewLogger(cfg).With(logger.Component("seed"))

	c, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	created, skipped, err := Seed(ctx, c.Catalog, secret, c.Clock, dryRun)
	if err != nil {
		return err
	}
	log.Info("catalog seeded",
		logger.Int("created", created),
		logger.Int("skipped", skipped),
		logger.Bool("dry_run", dryRun),
	)
	return nil
}

// Seed inserts every stock achievement whose code is not yet taken.
func Seed(ctx context.Context, repo achievement.Repository, secret string, clock shared.Clock, dryRun bool) (created, skipped int, err error) {
	defs, err := achievement.DefaultCatalog(secret, clock())
	if err != nil {
		return 0, 0, fmt.Errorf("build default catalog: %w", err)
	}

	for _, def := range defs {
		_, err := repo.GetByCode(ctx, def.Code)
		switch {
		case err == nil:
			skipped++
			continue
		case !shared.IsNotFound(err):
			return created, skipped, fmt.Errorf("lookup %s: %w", def.Code, err)
		}

		if dryRun {
			created++
			continue
		}
		if err := repo.Create(ctx, def); err != nil {
			if shared.IsConflict(err) {
				skipped++
				continue
			}
			return created, skipped, fmt.Errorf("create %s: %w", def.Code, err)
		}
		created++
	}
	return created, skipped, nil
}
