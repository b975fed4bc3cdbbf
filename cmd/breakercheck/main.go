// Breakercheck drives resilienced and a fakesource through an outage and
// reports how the circuit reacts: requests pass, the source fails and the
// circuit opens, the source recovers, the prober half-opens the circuit and
// trial traffic closes it again.
//
// Usage:
//
//	go run ./cmd/breakercheck -gateway http://localhost:8080 -source-url http://localhost:8081 -source oura
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
)

func main() {
	var (
		gateway   = flag.String("gateway", "http://localhost:8080", "resilienced URL")
		sourceURL = flag.String("source-url", "http://localhost:8081", "fakesource URL")
		source    = flag.String("source", "oura", "source name configured in resilienced")
		requests  = flag.Int("requests", 20, "requests per phase")
		recovery  = flag.Duration("recovery-timeout", time.Minute, "how long to wait for the prober to half-open the circuit")
	)
	flag.Parse()

	c := &checker{
		client:  &http.Client{Timeout: 10 * time.Second},
		gateway: *gateway,
		source:  *source,
	}

	phase("PHASE 1: Normal operation")
	statuses := c.sendBatch(*requests, "ok")
	report(statuses)
	if statuses[http.StatusOK] == 0 {
		fmt.Println(colorRed + "  ✗ No request succeeded. Are resilienced and fakesource running?" + colorReset)
		os.Exit(1)
	}

	phase("PHASE 2: Source outage")
	if err := setMode(c.client, *sourceURL, "fail"); err != nil {
		fmt.Printf(colorRed+"  ✗ Could not switch source to fail: %v\n"+colorReset, err)
		os.Exit(1)
	}
	report(c.sendBatch(*requests, "outage"))
	state, err := c.circuitState()
	if err != nil {
		fmt.Printf(colorRed+"  ✗ %v\n"+colorReset, err)
		os.Exit(1)
	}
	fmt.Printf("  Circuit %s is %s\n", *source, state)
	if state != "OPEN" {
		fmt.Println(colorYellow + "  ⚠ Circuit did not open, check breaker.failure_threshold" + colorReset)
	}

	phase("PHASE 3: Recovery")
	if err := setMode(c.client, *sourceURL, "ok"); err != nil {
		fmt.Printf(colorRed+"  ✗ Could not switch source to ok: %v\n"+colorReset, err)
		os.Exit(1)
	}
	if err := c.waitForState("HALF_OPEN", *recovery, time.Second); err != nil {
		fmt.Printf(colorRed+"  ✗ %v\n"+colorReset, err)
		os.Exit(1)
	}
	fmt.Println(colorGreen + "  ✓ Prober half-opened the circuit" + colorReset)
	report(c.sendBatch(*requests, "recovered"))

	state, err = c.circuitState()
	if err != nil {
		fmt.Printf(colorRed+"  ✗ %v\n"+colorReset, err)
		os.Exit(1)
	}
	if state != "CLOSED" {
		fmt.Printf(colorRed+"  ✗ Circuit is %s after trial traffic, check breaker.success_threshold\n"+colorReset, state)
		os.Exit(1)
	}
	fmt.Println(colorGreen + "  ✓ Circuit closed again" + colorReset)
}

func phase(title string) {
	fmt.Println()
	fmt.Println(colorBlue + "━━━ " + title + " ━━━" + colorReset)
}

func report(statuses map[int]int) {
	for status, n := range statuses {
		color := colorGreen
		if status >= 500 || status == 0 {
			color = colorYellow
		}
		label := http.StatusText(status)
		if status == 0 {
			label = "transport error"
		}
		fmt.Printf(color+"    %d %s → %d requests\n"+colorReset, status, label, n)
	}
}
