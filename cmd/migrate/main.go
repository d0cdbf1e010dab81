// migrate applies and rolls back the versioned SQL schema backing the
// corpus, identity, and usage-log tables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"docsearch-mcp/internal/config"
	"docsearch-mcp/internal/corpus"
	"docsearch-mcp/internal/migration"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: config's database.migrations_path)")
		command       = flag.String("command", "status", "Command to execute: status, plan, migrate, rollback")
		target        = flag.Int("target", 0, "Target version for rollback")
		force         = flag.Bool("force", false, "Skip the confirmation prompt")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	dir := *migrationsDir
	if dir == "" {
		dir = cfg.Database.MigrationsPath
	}

	db, err := corpus.Open(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return 1
	}
	defer db.Close()

	migrator := migration.NewMigrator(db, dir)
	ctx := context.Background()
	if err := migrator.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize migration ledger: %v\n", err)
		return 1
	}

	switch *command {
	case "status":
		err = executeStatus(ctx, migrator)
	case "plan":
		err = executePlan(ctx, migrator)
	case "migrate":
		err = executeMigrate(ctx, migrator, *force)
	case "rollback":
		err = executeRollback(ctx, migrator, *target, *force)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (expected status, plan, migrate, rollback)\n", *command)
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		return 1
	}
	return 0
}

func executeStatus(ctx context.Context, migrator *migration.Migrator) error {
	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Migration status:\n")
	fmt.Printf("  Applied:  %d\n", status.AppliedCount)
	fmt.Printf("  Pending:  %d\n", status.PendingCount)
	fmt.Printf("  On disk:  %d\n", status.TotalFiles)
	if status.LastAppliedAt != nil {
		fmt.Printf("  Last applied: version %d at %s\n", status.LastVersion, status.LastAppliedAt.Format(time.RFC3339))
	}
	return nil
}

func executePlan(ctx context.Context, migrator *migration.Migrator) error {
	plan, err := migrator.PlanMigrate(ctx)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	fmt.Printf("Pending migrations: %d\n", plan.TotalCount)
	for _, mig := range plan.Migrations {
		fmt.Printf("  %04d %s (rollback: %t)\n", mig.Version, mig.Description, mig.HasRollback)
	}
	return nil
}

func executeMigrate(ctx context.Context, migrator *migration.Migrator, force bool) error {
	plan, err := migrator.PlanMigrate(ctx)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	if plan.TotalCount == 0 {
		fmt.Println("no migrations to apply")
		return nil
	}

	fmt.Printf("About to apply %d migration(s):\n", plan.TotalCount)
	for _, mig := range plan.Migrations {
		fmt.Printf("  %04d %s\n", mig.Version, mig.Description)
	}
	if !force && !confirm("Proceed?") {
		fmt.Println("migration cancelled")
		return nil
	}

	if err := migrator.Apply(ctx, plan); err != nil {
		return err
	}
	fmt.Println("migration applied successfully")
	return nil
}

func executeRollback(ctx context.Context, migrator *migration.Migrator, target int, force bool) error {
	plan, err := migrator.PlanRollback(ctx, target)
	if err != nil {
		return fmt.Errorf("build rollback plan: %w", err)
	}
	if plan.TotalCount == 0 {
		fmt.Printf("no rollbacks needed to reach version %d\n", target)
		return nil
	}

	fmt.Printf("About to roll back %d migration(s) to reach version %d:\n", plan.TotalCount, target)
	for _, mig := range plan.Migrations {
		fmt.Printf("  %04d %s\n", mig.Version, mig.Description)
	}
	if !force && !confirm("This may cause data loss. Proceed?") {
		fmt.Println("rollback cancelled")
		return nil
	}

	if err := migrator.Rollback(ctx, plan); err != nil {
		return err
	}
	fmt.Printf("rolled back to version %d successfully\n", target)
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var response string
	_, _ = fmt.Scanln(&response)
	return response == "y" || response == "Y"
}
