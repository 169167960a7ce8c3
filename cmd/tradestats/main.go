// Command tradestats prints a per-symbol win/loss report and the
// signal funnel from the bot's local SQLite log.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/koshedu/surge-short-bot/internal/database"
)

type symbolStats struct {
	symbol   string
	closes   int
	wins     int
	losses   int
	tpHits   int
	slHits   int
	other    int
	totalPnl decimal.Decimal
}

func main() {
	dbPath := flag.String("db", "", "SQLite database path (default $DB_PATH or data/surgebot.db)")
	days := flag.Int("days", 30, "report window in days")
	flag.Parse()

	godotenv.Load()
	path := *dbPath
	if path == "" {
		path = os.Getenv("DB_PATH")
	}
	if path == "" {
		path = "data/surgebot.db"
	}

	store, err := database.Open(path, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer store.Close()

	since := time.Now().UTC().AddDate(0, 0, -*days)
	trades, err := store.TradesSince(since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read trades: %v\n", err)
		os.Exit(1)
	}

	line := strings.Repeat("=", 80)
	fmt.Println(line)
	fmt.Printf("📊 SURGE-SHORT TRADE REPORT (last %d days)\n", *days)
	fmt.Println(line)

	entries := 0
	bySymbol := make(map[string]*symbolStats)
	for _, t := range trades {
		if t.Event == database.EventEntry {
			entries++
			continue
		}
		s := bySymbol[t.Symbol]
		if s == nil {
			s = &symbolStats{symbol: t.Symbol}
			bySymbol[t.Symbol] = s
		}
		s.closes++
		switch t.Event {
		case database.EventTP:
			s.tpHits++
		case database.EventSL:
			s.slHits++
		default:
			s.other++
		}
		s.totalPnl = s.totalPnl.Add(t.RealizedPnl)
		switch t.RealizedPnl.Sign() {
		case 1:
			s.wins++
		case -1:
			s.losses++
		}
	}

	if len(bySymbol) == 0 {
		fmt.Printf("\nNo closed positions in the window. Entries placed: %d\n", entries)
		return
	}

	sorted := make([]*symbolStats, 0, len(bySymbol))
	for _, s := range bySymbol {
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].totalPnl.GreaterThan(sorted[j].totalPnl)
	})

	fmt.Println("\n┌──────────────┬────────┬──────┬──────┬───────┬──────────────┬──────────┐")
	fmt.Println("│ Symbol       │ Closes │ TP   │ SL   │ Other │ Net PnL      │ Win rate │")
	fmt.Println("├──────────────┼────────┼──────┼──────┼───────┼──────────────┼──────────┤")

	total := decimal.Zero
	var closes, wins, losses int
	for _, s := range sorted {
		marker := "🟢"
		if s.totalPnl.Sign() < 0 {
			marker = "🔴"
		}
		fmt.Printf("│ %s %-10s │ %6d │ %4d │ %4d │ %5d │ %12s │ %7.1f%% │\n",
			marker, truncate(s.symbol, 10), s.closes, s.tpHits, s.slHits, s.other,
			s.totalPnl.StringFixed(2), pct(s.wins, s.closes))
		total = total.Add(s.totalPnl)
		closes += s.closes
		wins += s.wins
		losses += s.losses
	}

	fmt.Println("├──────────────┼────────┼──────┼──────┼───────┼──────────────┼──────────┤")
	fmt.Printf("│ 📊 TOTAL     │ %6d │      │      │       │ %12s │ %7.1f%% │\n",
		closes, total.StringFixed(2), pct(wins, closes))
	fmt.Println("└──────────────┴────────┴──────┴──────┴───────┴──────────────┴──────────┘")

	fmt.Printf("\n💰 Net realised PnL: %s USDT (%d win / %d loss over %d closes, %d entries placed)\n",
		total.StringFixed(2), wins, losses, closes, entries)

	printSignalFunnel(store, since)
}

func printSignalFunnel(store *database.Store, since time.Time) {
	events, err := store.SignalEventsSince(since)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read signal events: %v\n", err)
		return
	}
	if len(events) == 0 {
		return
	}

	accepted := 0
	reasons := make(map[string]int)
	for _, ev := range events {
		if ev.Accepted {
			accepted++
			continue
		}
		reasons[ev.Reason]++
	}

	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("📡 SIGNAL FUNNEL")
	fmt.Println(line)
	fmt.Printf("   %d signal(s) recorded, %d accepted (%.1f%%)\n",
		len(events), accepted, pct(accepted, len(events)))

	if len(reasons) == 0 {
		return
	}
	type reasonCount struct {
		reason string
		n      int
	}
	ranked := make([]reasonCount, 0, len(reasons))
	for r, n := range reasons {
		ranked = append(ranked, reasonCount{r, n})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].n > ranked[j].n })

	fmt.Println("   Rejections by reason:")
	for _, r := range ranked {
		fmt.Printf("      %4d× %s\n", r.n, r.reason)
	}
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
