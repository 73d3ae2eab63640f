// A load generator for the link and payout endpoints.
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
)

// Config holds the benchmark settings
var (
	targetURL   string
	token       string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	success2xx    uint64
	fail409       uint64 // payout conflicts
	fail422       uint64 // validation rejections
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&token, "token", os.Getenv("BENCH_TOKEN"), "Bearer token for the target account")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "links", "Workload type: links | payouts | mixed")
}

func main() {
	flag.Parse()
	if token == "" {
		log.Fatal("a bearer token is required (-token or BENCH_TOKEN)")
	}
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

	for time.Since(start) < duration {
		switch workload {
		case "payouts":
			requestPayout(client)
		case "mixed":
			if rand.Intn(10) == 0 {
				requestPayout(client)
			} else {
				createLink(client)
			}
		default:
			createLink(client)
		}
	}
}

func createLink(client *http.Client) {
	currencies := []string{"usd", "eur", "gbp"}
	body, _ := json.Marshal(map[string]any{
		"kind":     "one_time",
		"title":    fmt.Sprintf("bench-%d", rand.Int63()),
		"amount":   rand.Intn(9900) + 100,
		"currency": currencies[rand.Intn(len(currencies))],
	})
	send(client, "POST", "/api/v1/links", body)
}

func requestPayout(client *http.Client) {
	send(client, "POST", "/api/v1/payouts", nil)
}

func send(client *http.Client, method, path string, body []byte) {
	req, err := http.NewRequest(method, targetURL+path, bytes.NewReader(body))
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	atomic.AddUint64(&totalRequests, 1)
	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		atomic.AddUint64(&success2xx, 1)
	case resp.StatusCode == http.StatusConflict:
		atomic.AddUint64(&fail409, 1)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		atomic.AddUint64(&fail422, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func printResults(elapsed time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	fmt.Println("\n--- Benchmark Results ---")
	fmt.Printf("Duration:       %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Total Requests: %d\n", total)
	fmt.Printf("Throughput:     %.1f req/s\n", float64(total)/elapsed.Seconds())
	fmt.Printf("Success (2xx):  %d\n", atomic.LoadUint64(&success2xx))
	fmt.Printf("Conflict (409): %d\n", atomic.LoadUint64(&fail409))
	fmt.Printf("Rejected (422): %d\n", atomic.LoadUint64(&fail422))
	fmt.Printf("Other failures: %d\n", atomic.LoadUint64(&failOther))
}
