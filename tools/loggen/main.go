// Command loggen writes a synthetic proxy access log for exercising the
// ingestion pipeline. With -rps it trickles rows like a live proxy feed.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var header = []string{"timestamp", "user_email", "department", "source_ip", "url", "bytes_sent", "bytes_received"}

var departments = []string{"Legal", "Clinical", "Claims", "Finance", "HR", "Marketing", "Sales", "Engineering", "Support", ""}

var aiURLs = []string{
	"https://api.openai.com/v1/chat/completions",
	"https://api.openai.com/v1/embeddings",
	"https://chat.openai.com/c/new",
	"https://api.anthropic.com/v1/messages",
	"https://claude.ai/chat",
	"https://generativelanguage.googleapis.com/v1/models/gemini-pro:generateContent",
	"https://copilot-proxy.githubusercontent.com/v1/engines/copilot-codex/completions",
	"https://www.perplexity.ai/search",
}

var otherURLs = []string{
	"https://www.example.com/index.html",
	"https://intranet.corp.example/wiki/Onboarding",
	"https://cdn.example.net/assets/app.js",
}

func main() {
	out := flag.String("out", "-", "Output file, - for stdout")
	rows := flag.Int("n", 1000, "Number of rows to generate")
	rps := flag.Int("rps", 0, "Rows per second limit, 0 for no limit")
	aiShare := flag.Float64("ai", 0.6, "Share of rows that hit AI services")
	days := flag.Int("days", 7, "Spread timestamps over this many days")
	seed := flag.Uint64("seed", 0, "Random seed, 0 for a random one")
	flag.Parse()

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}

	if *seed == 0 {
		*seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(*seed, *seed>>1))

	limit := rate.Inf
	if *rps > 0 {
		limit = rate.Limit(*rps)
	}
	limiter := rate.NewLimiter(limit, 1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		log.Fatalf("failed to write header: %v", err)
	}

	start := time.Now().UTC().Add(-time.Duration(*days) * 24 * time.Hour)
	span := time.Duration(*days) * 24 * time.Hour
	written := 0
	for i := 0; i < *rows; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		ts := start.Add(time.Duration(rng.Int64N(int64(span) + 1)))
		if *rps > 0 {
			ts = time.Now().UTC()
		}
		if err := cw.Write(row(rng, ts, *aiShare)); err != nil {
			log.Fatalf("failed to write row: %v", err)
		}
		written++
		if *rps > 0 {
			cw.Flush()
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Fatalf("failed to flush: %v", err)
	}

	log.Printf("Wrote %d rows (seed %d)", written, *seed)
}

func row(rng *rand.Rand, ts time.Time, aiShare float64) []string {
	user := rng.IntN(40)
	dept := departments[user%len(departments)]
	email := ""
	if rng.IntN(20) != 0 {
		email = fmt.Sprintf("user%02d@corp.example", user)
	}

	var url string
	switch r := rng.Float64(); {
	case r < aiShare*0.85:
		url = aiURLs[rng.IntN(len(aiURLs))]
	case r < aiShare:
		// An unsanctioned tool nobody has catalogued yet.
		url = fmt.Sprintf("https://ai-%s.example/chat", uuid.NewString()[:8])
	default:
		url = otherURLs[rng.IntN(len(otherURLs))]
	}

	sent := strconv.Itoa(200 + rng.IntN(3000))
	if rng.IntN(8) == 0 {
		sent = strconv.Itoa(4096 + rng.IntN(20000))
	}
	received := strconv.Itoa(500 + rng.IntN(8000))
	if rng.IntN(50) == 0 {
		received = "n/a"
	}

	return []string{
		ts.Format(time.RFC3339),
		email,
		dept,
		fmt.Sprintf("10.0.%d.%d", user/10, user%256),
		url,
		sent,
		received,
	}
}
