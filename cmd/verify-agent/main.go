package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"po-ledger/internal/ai"
	"po-ledger/internal/core"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o"
	}
	agent := ai.NewAgent(apiKey, model)

	base := core.POContext{
		PONumber:         "4500012345",
		Supplier:         "ACME Telecom Services",
		Currency:         "XOF",
		POAmount:         decimal.NewFromInt(12_000_000),
		CreationDate:     "2024-01-15",
		PIPEndDate:       "2024-06-30",
		ActualEndDate:    "2024-08-14",
		OrderDescription: "Rollout of 12 rural sites",
		PaymentTerms:     "30 days end of month",
		CPU:              core.NotAvailable,
		TotalAmount:      decimal.NewFromInt(12_000_000),
		ReceivedAmount:   decimal.NewFromInt(9_600_000),
		ProgressRate:     decimal.NewFromInt(80),
	}
	pc := core.BuildPenaltyContext(base, core.TimelineDelay{
		PONumber:          base.PONumber,
		TotalDelay:        45,
		DelayMTN:          10,
		DelayVendor:       30,
		DelayForceMajeure: 5,
		CommentVendor:     "Late delivery of antenna masts",
		QuotiteRealisee:   decimal.NewFromInt(80),
	})

	fmt.Printf("DRAFTING OBSERVATION FOR PO %s (penalties due %s %s)\n", pc.PONumber, pc.PenaltiesDue.StringFixed(2), pc.Currency)
	draft, err := agent.DraftObservation(context.Background(), pc)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\n--- DRAFT ---\n")
	fmt.Printf("Confidence: %.2f\n", draft.Confidence)
	fmt.Printf("Observation: %s\n", draft.Observation)
}
