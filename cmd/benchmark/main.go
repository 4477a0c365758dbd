// Benchmark tool for checking Vasool's classifier against a labelled ledger.
//
// Usage:
//
//	go run cmd/benchmark/main.go -csv /path/to/ledger.csv -today 2025-11-14 -url http://localhost:8080
//
// The CSV needs a header row with customer, amount and due_date columns and
// an expected_stage column (0..5). balance, status and expected_risk are
// optional. Each row is sent to POST /classify and the returned stage and
// risk are compared with the labels.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/vasool/internal/api"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/ingest"
)

// LabelledInvoice is a ledger row and the outcome it should classify to.
type LabelledInvoice struct {
	Row          int
	Invoice      *domain.Invoice
	ExpectedRisk domain.RiskLevel
	Expected     domain.Stage
}

// Metrics tracks benchmark results. Matrix is indexed [expected][predicted].
type Metrics struct {
	mu     sync.Mutex
	Matrix [domain.StageCount + 1][domain.StageCount + 1]int64

	RiskChecked int64
	RiskMatched int64

	TotalProcessed int64
	TotalErrors    int64

	latencies []time.Duration
}

func (m *Metrics) record(expected, predicted domain.Stage, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Matrix[expected][predicted]++
	m.latencies = append(m.latencies, elapsed)
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled ledger CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Vasool base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	today := flag.String("today", "", "Calendar date to classify as of (YYYY-MM-DD, default server today)")
	limit := flag.Int("limit", 10000, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each mismatch")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/ledger.csv [-url http://localhost:8080] [-today YYYY-MM-DD]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	asOf := domain.Today(time.Local)
	if *today != "" {
		d, err := domain.ParseDate(*today)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		asOf = d
	}

	fmt.Println("VASOOL BENCHMARK - Escalation classifier")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Vasool URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("As of:       %s\n", asOf)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Vasool not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Vasool is running:")
		fmt.Println("  go run ./cmd/vasool")
		os.Exit(1)
	}
	fmt.Println("Vasool is healthy")

	invoices, rejected, err := readLedgerCSV(*csvPath, *limit, asOf)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows (%d rejected)\n", len(invoices), len(rejected))
	if *verbose {
		for _, re := range rejected {
			fmt.Printf("  %v\n", re)
		}
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(invoices, *baseURL, *tenantID, asOf, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readLedgerCSV parses rows through the import normalizer, so the benchmark
// rejects exactly what an import would.
func readLedgerCSV(path string, limit int, today domain.Date) ([]LabelledInvoice, []ingest.RowError, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"amount", "expected_stage"} {
		if _, ok := colIndex[required]; !ok {
			return nil, nil, fmt.Errorf("header has no %s column", required)
		}
	}

	cell := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var (
		invoices []LabelledInvoice
		rejected []ingest.RowError
	)
	now := time.Now()

	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rejected = append(rejected, ingest.RowError{Row: row, Reason: err.Error()})
			continue
		}

		stage, err := strconv.Atoi(cell(record, "expected_stage"))
		if err != nil || !domain.Stage(stage).Valid() {
			rejected = append(rejected, ingest.RowError{Row: row, Reason: "expected_stage must be 0..5"})
			continue
		}

		rec := ingest.Record{
			CustomerName: cell(record, "customer"),
			DueDate:      cell(record, "due_date"),
			Status:       cell(record, "status"),
		}
		if rec.Amount, err = ingest.ParseAmount(cell(record, "amount")); err != nil {
			rejected = append(rejected, ingest.RowError{Row: row, Reason: err.Error()})
			continue
		}
		if s := cell(record, "balance"); s != "" {
			if rec.Balance, err = ingest.ParseAmount(s); err != nil {
				rejected = append(rejected, ingest.RowError{Row: row, Reason: err.Error()})
				continue
			}
		}

		inv, err := ingest.Normalize(rec, domain.SourceManual, today, now)
		if err != nil {
			rejected = append(rejected, ingest.RowError{Row: row, Reason: err.Error()})
			continue
		}

		invoices = append(invoices, LabelledInvoice{
			Row:          row,
			Invoice:      inv,
			ExpectedRisk: domain.RiskLevel(strings.ToLower(cell(record, "expected_risk"))),
			Expected:     domain.Stage(stage),
		})

		if limit > 0 && len(invoices) >= limit {
			break
		}
	}

	return invoices, rejected, nil
}

func runBenchmark(invoices []LabelledInvoice, baseURL, tenantID string, today domain.Date, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabelledInvoice, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for li := range work {
				start := time.Now()
				result, err := classifyInvoice(client, baseURL, tenantID, today, li.Invoice)
				elapsed := time.Since(start)

				atomic.AddInt64(&metrics.TotalProcessed, 1)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", li.Row, err)
					}
					continue
				}

				metrics.record(li.Expected, result.Stage, elapsed)

				if li.ExpectedRisk.Valid() {
					atomic.AddInt64(&metrics.RiskChecked, 1)
					if result.Risk == li.ExpectedRisk {
						atomic.AddInt64(&metrics.RiskMatched, 1)
					}
				}

				if verbose && (result.Stage != li.Expected || (li.ExpectedRisk.Valid() && result.Risk != li.ExpectedRisk)) {
					fmt.Printf("MISMATCH row %-6d | %-20.20s | due %s | expected stage %d/%s, got %d/%s (%d days past due)\n",
						li.Row,
						li.Invoice.CustomerName,
						li.Invoice.DueDate,
						li.Expected,
						li.ExpectedRisk,
						result.Stage,
						result.Risk,
						result.DaysPastDue,
					)
				}
			}
		}()
	}

	for _, li := range invoices {
		work <- li
	}
	close(work)

	wg.Wait()

	return metrics
}

func classifyInvoice(client *http.Client, baseURL, tenantID string, today domain.Date, inv *domain.Invoice) (*api.ClassifyResponse, error) {
	req := api.ClassifyRequest{
		Status:  inv.Status,
		DueDate: inv.DueDate,
		Amount:  inv.Amount,
	}
	if inv.Balance.Valid {
		balance := inv.Balance.Decimal
		req.Balance = &balance
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/classify?today="+today.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result api.ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nSTAGE CONFUSION MATRIX (rows expected, columns predicted)\n")
	fmt.Print("          ")
	for p := domain.StageNone; p <= domain.Stage5; p++ {
		fmt.Printf("%8d", p)
	}
	fmt.Println()

	var correct, total int64
	for e := domain.StageNone; e <= domain.Stage5; e++ {
		fmt.Printf("   %d  %-3s", e, "|")
		for p := domain.StageNone; p <= domain.Stage5; p++ {
			n := m.Matrix[e][p]
			fmt.Printf("%8d", n)
			total += n
			if e == p {
				correct += n
			}
		}
		fmt.Println()
	}

	fmt.Printf("\nAGREEMENT\n")
	if total > 0 {
		fmt.Printf("   Stage:  %d / %d (%.2f%%)\n", correct, total, 100*float64(correct)/float64(total))
	}
	for s := domain.Stage1; s <= domain.Stage5; s++ {
		var expected, predicted int64
		for o := domain.StageNone; o <= domain.Stage5; o++ {
			expected += m.Matrix[s][o]
			predicted += m.Matrix[o][s]
		}
		if expected == 0 && predicted == 0 {
			continue
		}
		fmt.Printf("   Stage %d %-20s precision %.4f  recall %.4f\n",
			s, "("+s.Label()+")", ratio(m.Matrix[s][s], predicted), ratio(m.Matrix[s][s], expected))
	}
	if m.RiskChecked > 0 {
		fmt.Printf("   Risk:   %d / %d (%.2f%%)\n", m.RiskMatched, m.RiskChecked, 100*ratio(m.RiskMatched, m.RiskChecked))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := len(m.latencies); n > 0 {
		slices.Sort(m.latencies)
		fmt.Printf("   p50 Latency:      %v\n", m.latencies[n/2].Round(time.Microsecond))
		fmt.Printf("   p99 Latency:      %v\n", m.latencies[(n*99)/100].Round(time.Microsecond))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Println()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
