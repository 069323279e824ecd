package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/suryakumar124/Med-survey-diff-sub001/internal/app"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/db"
	"github.com/suryakumar124/Med-survey-diff-sub001/internal/redemption"
)

// Settles pending point redemptions in one batch. Meant to run from
// cron; safe to run concurrently with the web server because each item
// is settled under a row lock.
func main() {
	limit := flag.Int("limit", 100, "maximum redemptions to settle in this run")
	flag.Parse()

	_ = godotenv.Load()
	cfg := app.LoadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dbConn, err := db.OpenPostgres(ctx, cfg.DBDSN)
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	svc := redemption.NewService(dbConn)
	processed, failed, err := svc.ProcessPendingRedemptions(ctx, *limit)
	if err != nil {
		log.Printf("settlement error after processed=%d failed=%d: %v", processed, failed, err)
		os.Exit(1)
	}

	log.Printf("redemption settlement done processed=%d failed=%d", processed, failed)
}
