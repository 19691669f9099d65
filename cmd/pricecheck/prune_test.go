package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rewired-gh/pricecheck/internal/models"
	"github.com/rewired-gh/pricecheck/internal/storage"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("pricecheck %s failed: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestSeedThenPrune(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "prices.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := "source:\n  kind: sqlite\n  sqlite_path: " + dbPath + "\n  lookback_days: 0\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out := execute(t, "seed", "--config", cfgPath,
		"--skus", "sku-a", "--start", "2025-01-01", "--days", "3", "--history-days", "2", "--max-step", "2")
	if !strings.Contains(out, "6 predictions") {
		t.Errorf("unexpected seed output: %q", out)
	}

	out = execute(t, "prune", "--config", cfgPath, "--before", "2025-01-02")
	if !strings.Contains(out, "Pruned") || !strings.Contains(out, "before 2025-01-02") {
		t.Errorf("unexpected prune output: %q", out)
	}

	st, err := storage.New(dbPath, 0)
	if err != nil {
		t.Fatalf("storage.New failed: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	old, err := st.FetchHistoricalPrices(ctx, "sku-a", models.MustParseDate("2025-01-02"))
	if err != nil || len(old) != 0 {
		t.Errorf("expected prices before the cutoff to be gone, got %v (%v)", old, err)
	}
	preds, err := st.FetchPredictions(ctx, "sku-a", models.MustParseDate("2025-01-01"), 2)
	if err != nil || len(preds) != 0 {
		t.Errorf("expected forecasts issued before the cutoff to be gone, got %d (%v)", len(preds), err)
	}
	preds, err = st.FetchPredictions(ctx, "sku-a", models.MustParseDate("2025-01-02"), 2)
	if err != nil || len(preds) != 2 {
		t.Errorf("expected forecasts from the cutoff onwards to be kept, got %d (%v)", len(preds), err)
	}
}
