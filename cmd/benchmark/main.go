package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/marketops/internal/bridge"
	"github.com/punchamoorthee/marketops/internal/domain"
	"github.com/punchamoorthee/marketops/internal/hostsim"
	"github.com/punchamoorthee/marketops/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	players     int
)

// Metrics
var (
	totalRequests uint64
	committed     uint64
	replayed      uint64
	rejected      uint64 // 422, e.g. insufficient balance
	fail409       uint64 // Conflicts (Aborts)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:9090", "Host simulator base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | replay")
	flag.IntVar(&players, "players", 1000, "Number of seeded players (player-1..player-N)")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastKey, lastPlayer string
	var lastBody []byte

	for time.Since(start) < duration {
		player := pickPlayer(rng)
		key := uuid.NewString()
		body, _ := json.Marshal(models.PurchaseBody{
			Items:         []domain.PurchaseLine{{ItemID: "water", Quantity: 1}},
			PaymentMethod: domain.PaymentCash,
			TotalPrice:    5,
		})

		// Replay: half the requests resend the previous key and body.
		if workload == "replay" && lastKey != "" && rng.Float32() < 0.5 {
			key, player, body = lastKey, lastPlayer, lastBody
		}
		lastKey, lastPlayer, lastBody = key, player, body

		req, _ := http.NewRequest("POST", targetURL+"/"+models.ActionPurchase, bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(bridge.IdempotencyHeader, key)
		req.Header.Set(bridge.PlayerHeader, player)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK && resp.Header.Get(hostsim.ReplayedHeader) != "":
			atomic.AddUint64(&replayed, 1)
		case resp.StatusCode == http.StatusOK:
			atomic.AddUint64(&committed, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickPlayer(rng *rand.Rand) string {
	if workload == "hotspot" && rng.Float32() < 0.90 {
		// Hotspot: 90% of traffic goes to two wallets
		return fmt.Sprintf("player-%d", rng.Intn(2)+1)
	}
	return fmt.Sprintf("player-%d", rng.Intn(players)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	f409 := atomic.LoadUint64(&fail409)

	tps := float64(total) / d.Seconds()
	abortRate := 0.0
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"committed":       atomic.LoadUint64(&committed),
		"replayed":        atomic.LoadUint64(&replayed),
		"rejected":        atomic.LoadUint64(&rejected),
		"aborts_conflict": f409,
		"abort_rate_pct":  abortRate,
		"errors":          atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
