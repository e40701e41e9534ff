package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/dealwatch-project/backend/internal/config"
	"github.com/dealwatch-project/backend/internal/db"
	"github.com/dealwatch-project/backend/internal/integrations/market"
	"github.com/dealwatch-project/backend/internal/models"
)

// Backfill seeds price history for deals that have none, so analysis and
// forecasting have enough points to work with from day one.
func main() {
	days := flag.Int("days", 90, "days of history to fetch per deal")
	flag.Parse()

	log.Println("🚀 Starting manual price history backfill...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := db.Migrate(pgDB); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	marketClient := market.NewClient(cfg)
	ctx := context.Background()

	var deals []models.Deal
	if err := pgDB.Where("is_active = ?", true).Find(&deals).Error; err != nil {
		log.Fatalf("failed to list deals: %v", err)
	}

	var seeded, skipped int
	for _, deal := range deals {
		var existing int64
		if err := pgDB.Model(&models.PricePoint{}).Where("deal_id = ?", deal.ID).Count(&existing).Error; err != nil {
			log.Printf("⚠️ %s: count failed: %v", deal.ID, err)
			continue
		}
		if existing > 0 {
			skipped++
			continue
		}

		history, err := marketClient.GetPriceHistory(ctx, deal.ProductID, *days)
		if err != nil {
			log.Printf("⚠️ %s: history fetch failed: %v", deal.ID, err)
			continue
		}
		if len(history) == 0 {
			skipped++
			continue
		}

		points := make([]models.PricePoint, 0, len(history))
		for _, h := range history {
			points = append(points, models.PricePoint{
				DealID:    deal.ID,
				Price:     h.Price,
				Currency:  deal.Currency,
				Source:    "backfill",
				Timestamp: h.Date,
			})
		}
		if err := pgDB.CreateInBatches(points, 200).Error; err != nil {
			log.Printf("⚠️ %s: insert failed: %v", deal.ID, err)
			continue
		}

		last := history[len(history)-1]
		if err := pgDB.Model(&models.Deal{}).Where("id = ?", deal.ID).
			Updates(map[string]interface{}{"price": last.Price, "updated_at": time.Now().UTC()}).Error; err != nil {
			log.Printf("⚠️ %s: price update failed: %v", deal.ID, err)
		}
		seeded++
		log.Printf("✅ %s: seeded %d points", deal.ID, len(points))
	}

	log.Printf("✅ Backfill complete: %d deals seeded, %d skipped.", seeded, skipped)
}
