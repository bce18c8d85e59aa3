package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/ussdops/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	dialogs       uint64 // reached addtocart
	released      uint64 // ended early with a release
	httpErrors    uint64
	failOther     uint64
)

// Each workload is the input sequence after the initiation dial.
var workloads = map[string][]string{
	"bundle":  {"2", "1", "1", "4", "1", "1"},
	"airtime": {"3", "1", "0201234567", "10", "1"},
	"voucher": {"1", "1", "1", "2", "1"},
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "bundle", "Workload type: bundle | airtime | voucher")
}

func main() {
	flag.Parse()
	steps, ok := workloads[workload]
	if !ok {
		log.Fatalf("unknown workload %q", workload)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i, steps)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, id int, steps []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	mobile := fmt.Sprintf("23324%07d", id)

	for time.Since(start) < duration {
		sessionID := uuid.NewString()
		resp, err := send(client, models.DialogRequest{
			Type: models.TypeInitiation, SessionID: sessionID, Mobile: mobile, Message: "*713#", Sequence: 1, ServiceCode: "*713#",
		})
		if err != nil {
			continue
		}

		for i, in := range steps {
			if resp.Type != models.TypeResponse {
				break
			}
			resp, err = send(client, models.DialogRequest{
				Type: models.TypeResponse, SessionID: sessionID, Mobile: mobile, Message: in, Sequence: i + 2,
			})
			if err != nil {
				break
			}
		}
		if err != nil {
			continue
		}

		switch resp.Type {
		case models.TypeAddToCart:
			atomic.AddUint64(&dialogs, 1)
		case models.TypeRelease:
			atomic.AddUint64(&released, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
	}
}

func send(client *http.Client, req models.DialogRequest) (models.DialogResponse, error) {
	var out models.DialogResponse
	body, _ := json.Marshal(req)

	atomic.AddUint64(&totalRequests, 1)
	resp, err := client.Post(targetURL+"/api/v1/ussd", "application/json", bytes.NewBuffer(body))
	if err != nil {
		atomic.AddUint64(&httpErrors, 1)
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&httpErrors, 1)
		return out, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		atomic.AddUint64(&httpErrors, 1)
		return out, err
	}
	return out, nil
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	done := atomic.LoadUint64(&dialogs)

	results := map[string]interface{}{
		"workload":           workload,
		"duration_sec":       d.Seconds(),
		"total_requests":     total,
		"throughput_rps":     float64(total) / d.Seconds(),
		"dialogs_completed":  done,
		"dialogs_per_sec":    float64(done) / d.Seconds(),
		"dialogs_released":   atomic.LoadUint64(&released),
		"http_errors":        atomic.LoadUint64(&httpErrors),
		"unexpected_replies": atomic.LoadUint64(&failOther),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("saving results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
