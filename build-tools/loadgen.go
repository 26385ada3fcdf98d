//go:build ignore

// Run: go run ./build-tools/loadgen.go -addr http://localhost:8080 -rps 20 -duration 60s -currencies USDT,USDC

package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

type purchaseRequest struct {
	AmountUSD string `json:"amountUsd"`
	Currency  string `json:"currency"`
	Wallet    string `json:"wallet"`
}

func main() {
	var (
		addr       = flag.String("addr", "http://localhost:8080", "service base URL")
		rps        = flag.Int("rps", 10, "purchase requests per second target")
		duration   = flag.Duration("duration", 30*time.Second, "how long to run")
		currencies = flag.String("currencies", "USDT,USDC", "comma-separated payment currencies")
		minUSD     = flag.Float64("min", 100, "minimum purchase amount in USD")
		maxUSD     = flag.Float64("max", 5000, "maximum purchase amount in USD")
	)
	flag.Parse()

	curs := splitTrim(*currencies)
	if len(curs) == 0 {
		fmt.Println("no currencies provided")
		os.Exit(1)
	}

	cli := &http.Client{Timeout: 30 * time.Second}
	endpoint := strings.TrimRight(*addr, "/") + "/api/purchase"

	fmt.Printf("loadgen → addr=%s rps=%d duration=%s\n", *addr, *rps, duration.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sent, ok, failed int64

	start := time.Now()
	end := start.Add(*duration)

	// steady pace with a little drift
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	perTick := float64(*rps) / 10.0 // 10 ticket in sec
	accum := 0.0

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("signal received, stopping…")
			break loop
		case now := <-tick.C:
			if now.After(end) {
				break loop
			}

			accum += perTick
			batch := int(math.Floor(accum))
			if batch <= 0 {
				continue
			}
			accum -= float64(batch)

			for i := 0; i < batch; i++ {
				go func() {
					atomic.AddInt64(&sent, 1)
					if fire(ctx, cli, endpoint, curs, *minUSD, *maxUSD) {
						atomic.AddInt64(&ok, 1)
					} else {
						atomic.AddInt64(&failed, 1)
					}
				}()
			}
		}
	}

	// let in-flight requests land
	fmt.Println("flushing…")
	time.Sleep(2 * time.Second)
	fmt.Printf("done: sent=%d ok=%d failed=%d\n",
		atomic.LoadInt64(&sent), atomic.LoadInt64(&ok), atomic.LoadInt64(&failed))
}

func fire(ctx context.Context, cli *http.Client, endpoint string, curs []string, minUSD, maxUSD float64) bool {
	body := purchaseRequest{
		AmountUSD: fmt.Sprintf("%.2f", minUSD+mrand.Float64()*(maxUSD-minUSD)),
		Currency:  curs[mrand.Intn(len(curs))],
		Wallet:    "0x" + randHex(40),
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("purchase rejected: status=%d\n", resp.StatusCode)
		return false
	}
	return true
}

func randHex(n int) string {
	b := make([]byte, n/2)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
