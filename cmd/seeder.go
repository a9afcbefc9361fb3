package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	requestDatamodel "github.com/frahmantamala/service-marketplace/internal/core/datamodel/request"
	paymentPostgres "github.com/frahmantamala/service-marketplace/internal/payment/postgres"
	"github.com/frahmantamala/service-marketplace/internal/request"
	requestPostgres "github.com/frahmantamala/service-marketplace/internal/request/postgres"
	"github.com/spf13/cobra"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed provider payout accounts and a few service requests for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			if err := db.Exec("DELETE FROM payment_ledger").Error; err != nil {
				log.Fatalf("failed to clear payment ledger: %v", err)
			}
			if err := db.Exec("DELETE FROM service_requests").Error; err != nil {
				log.Fatalf("failed to clear service requests: %v", err)
			}
			fmt.Println("Cleared service requests and ledger entries")
		}

		payouts := paymentPostgres.NewPayoutRepository(db)
		accounts := []struct {
			ProviderID  string
			Destination string
		}{
			{"provider-plumber", "acct_1PlumberDemo"},
			{"provider-electrician", "acct_1ElectricDemo"},
		}
		for _, a := range accounts {
			if err := payouts.SetDestination(ctx, a.ProviderID, a.Destination); err != nil {
				log.Fatalf("failed to seed payout account for %s: %v", a.ProviderID, err)
			}
			fmt.Println("Seeded payout account:", a.ProviderID)
		}

		requests := requestPostgres.NewRequestRepository(db)
		samples := []request.CreateRequestDTO{
			{ProviderID: "provider-plumber", ServiceName: "Fix kitchen sink", Location: "Luanda", Date: "2026-11-02", Time: "09:00"},
			{ProviderID: "provider-electrician", ServiceName: "Replace breaker panel", Location: "Lisboa", Date: "2026-11-05", Time: "14:30"},
		}
		for _, dto := range samples {
			var count int64
			if err := db.Model(&requestDatamodel.ServiceRequest{}).
				Where("client_id = ? AND service_name = ?", "client-demo", dto.ServiceName).
				Count(&count).Error; err != nil {
				log.Fatalf("failed to look up sample request: %v", err)
			}
			if count > 0 {
				fmt.Println("sample request already exists:", dto.ServiceName)
				continue
			}

			req := request.NewRequest("client-demo", dto, time.Now().UTC())
			if err := requests.Create(ctx, req); err != nil {
				log.Fatalf("failed to insert sample request %q: %v", dto.ServiceName, err)
			}
			fmt.Printf("Seeded service request %s: %s\n", req.ID, dto.ServiceName)
		}

		fmt.Println("Seed data ready")
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
}
