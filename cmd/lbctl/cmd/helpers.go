package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	sqliteadapter "github.com/newnol/vercel-lb/internal/adapter/driven/sqlite"
	"github.com/newnol/vercel-lb/internal/domain/model"
)

// stores bundles the repositories every subcommand needs.
type stores struct {
	db    *sqliteadapter.DB
	keys  *sqliteadapter.ClientKeyRepo
	usage *sqliteadapter.UsageRepo
}

func (s *stores) Close() {
	_ = s.db.Close()
}

// openStores opens the database at DATABASE_PATH and runs migrations.
func openStores() (*stores, error) {
	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		path = "data/lb_database.db"
	}

	db, err := sqliteadapter.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &stores{
		db:    db,
		keys:  sqliteadapter.NewClientKeyRepo(db),
		usage: sqliteadapter.NewUsageRepo(db),
	}, nil
}

// printKeyTable renders keys in a tabwriter table.
func printKeyTable(keys []model.ClientKey) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE\tRATE LIMIT\tEXPIRES\tCREATED")
	for _, key := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			key.ID,
			key.Name,
			activeLabel(key.IsActive),
			rateLimitLabel(key.RateLimit),
			expiryLabel(key.ExpiresAt),
			key.CreatedAt.UTC().Format("2006-01-02"),
		)
	}
	_ = w.Flush()
}

func printKeyDetails(key model.ClientKey) {
	fmt.Printf("ID: %s\n", key.ID)
	fmt.Printf("Name: %s\n", key.Name)
	fmt.Printf("Active: %s\n", activeLabel(key.IsActive))
	fmt.Printf("Rate limit: %s\n", rateLimitLabel(key.RateLimit))
	fmt.Printf("Expires: %s\n", expiryLabel(key.ExpiresAt))
	fmt.Printf("Created: %s\n", key.CreatedAt.UTC().Format(time.RFC3339))
}

func activeLabel(active bool) string {
	if active {
		return "yes"
	}
	return "no"
}

func rateLimitLabel(limit int) string {
	if limit == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d/min", limit)
}

func expiryLabel(expires *time.Time) string {
	if expires == nil {
		return "never"
	}
	return expires.UTC().Format("2006-01-02")
}
