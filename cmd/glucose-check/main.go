// glucose-check prints the persisted series and the connection record the way the service would load them.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gitter-badger/DiaBLE/common/database"
	"github.com/gitter-badger/DiaBLE/internal/config"
	"github.com/gitter-badger/DiaBLE/internal/freshness"
	"github.com/gitter-badger/DiaBLE/internal/models"
	"github.com/gitter-badger/DiaBLE/internal/repository"
	"github.com/gitter-badger/DiaBLE/internal/store"

	"go.uber.org/zap"
)

// rows printed per series
const previewRows = 5

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := repository.NewReadingRepository(db, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	series, err := repo.LoadSeries(ctx, models.AllSources)
	if err != nil {
		log.Fatalf("Failed to load series: %v", err)
	}
	state, ok, err := repo.LoadConnectionState(ctx)
	if err != nil {
		log.Fatalf("Failed to load connection state: %v", err)
	}

	readings := store.NewReadingStore(store.SpecsWithCaps(cfg.Glucose.SeriesCaps), zap.NewNop())
	for source, rs := range series {
		if err := readings.Load(source, rs); err != nil {
			fmt.Printf("⚠️  skipping stored series %q: %v\n", source, err)
		}
	}

	if !ok {
		state = models.ConnectionState{ReadingIntervalMinutes: cfg.Glucose.ReadingInterval}
	}
	report(os.Stdout, readings, state, ok, time.Now())
}

// report writes one block per non-empty series followed by the freshness evaluated at now
func report(w io.Writer, readings *store.ReadingStore, state models.ConnectionState, stored bool, now time.Time) {
	fmt.Fprintln(w, "=== Stored series ===")
	panels := readings.NonEmpty()
	if len(panels) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, ns := range panels {
		rs := ns.Snapshot()
		fmt.Fprintf(w, "\n%s [%s] %d readings\n", ns.Label(), ns.Source(), len(rs))
		for i, r := range rs {
			if i == previewRows {
				fmt.Fprintf(w, "  ... %d more\n", len(rs)-previewRows)
				break
			}
			fmt.Fprintf(w, "  %8d  %s  %s  %s\n", r.ID, r.Date.Local().Format("2006-01-02 15:04"), r.DisplayValue(), r.ShortSource())
		}
	}

	fmt.Fprintln(w, "\n=== Connection ===")
	if !stored {
		fmt.Fprintln(w, "  no connection record stored")
	}
	fmt.Fprintf(w, "  device state: %q\n", state.DeviceState)
	fmt.Fprintf(w, "  status: %q\n", state.Status)
	if state.NeverConnected() {
		fmt.Fprintln(w, "  last connection: never")
	} else {
		fmt.Fprintf(w, "  last connection: %s\n", state.LastConnectionDate.Local().Format(time.RFC3339))
	}

	f := freshness.Compute(state, now)
	fmt.Fprintf(w, "  countdown: %d s (%s)\n", f.Countdown, f.Staleness)
	if f.Text != "" {
		fmt.Fprintf(w, "  display: %s\n", f.Text)
	}
}
