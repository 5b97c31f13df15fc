// Package main provides a manual connectivity test for the upstream
// trade-search API, for use against a sandbox account while wiring up
// new credentials.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/drewstake/topsignal/internal/upstream"
)

func main() {
	var lookbackDays int
	flag.IntVar(&lookbackDays, "lookback-days", 7, "how many days of trade history to fetch")
	flag.Parse()

	fmt.Println("=== Upstream API Smoke Test ===")
	fmt.Println()

	baseURL := os.Getenv("PROJECTX_BASE_URL")
	username := os.Getenv("PROJECTX_USERNAME")
	apiKey := os.Getenv("PROJECTX_API_KEY")

	if baseURL == "" || username == "" || apiKey == "" {
		fmt.Println("Missing credentials. Set before running:")
		fmt.Println("  export PROJECTX_BASE_URL='https://...'")
		fmt.Println("  export PROJECTX_USERNAME='...'")
		fmt.Println("  export PROJECTX_API_KEY='...'")
		os.Exit(1)
	}

	client := upstream.New(baseURL, username, apiKey)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts, err := client.ListAccounts(ctx)
	if err != nil {
		log.Fatalf("ListAccounts failed: %v", err)
	}
	fmt.Printf("Login OK, %d tradeable account(s)\n", len(accounts))
	for _, a := range accounts {
		fmt.Printf("  - account %d: %s (balance %.2f, status %s)\n", a.ID, a.Name, a.Balance, a.Status)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts to test trade history against.")
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -lookbackDays)
	events, err := client.FetchTradeHistory(ctx, accounts[0].ID, start, end, 50, 0)
	if err != nil {
		log.Fatalf("FetchTradeHistory failed: %v", err)
	}
	fmt.Printf("Fetched %d trade(s) for account %d over the last %d day(s)\n", len(events), accounts[0].ID, lookbackDays)
}
