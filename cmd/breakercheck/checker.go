package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type checker struct {
	client  *http.Client
	gateway string
	source  string
}

type circuitStats struct {
	State string `json:"state"`
}

// sendBatch fetches n distinct users so that deduplication does not hide the
// outage. Transport errors are counted under status 0.
func (c *checker) sendBatch(n int, tag string) map[int]int {
	statuses := make(map[int]int)

	for i := range n {
		target := fmt.Sprintf("%s/ecosystem/%s?email=%s", c.gateway, url.PathEscape(c.source),
			url.QueryEscape(fmt.Sprintf("check-%s-%d-%d@example.com", tag, time.Now().UnixNano(), i)))

		resp, err := c.client.Get(target)
		if err != nil {
			statuses[0]++
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		statuses[resp.StatusCode]++
	}

	return statuses
}

func (c *checker) circuitState() (string, error) {
	resp, err := c.client.Get(c.gateway + "/circuits")
	if err != nil {
		return "", fmt.Errorf("fetch circuits: %w", err)
	}
	defer resp.Body.Close()

	var circuits map[string]circuitStats
	if err := json.NewDecoder(resp.Body).Decode(&circuits); err != nil {
		return "", fmt.Errorf("decode circuits: %w", err)
	}

	stats, ok := circuits[c.source]
	if !ok {
		return "", fmt.Errorf("circuit %q not found", c.source)
	}
	return stats.State, nil
}

func (c *checker) waitForState(want string, timeout, every time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		state, err := c.circuitState()
		if err == nil && state == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("circuit %q still %s after %s", c.source, state, timeout)
		}
		time.Sleep(every)
	}
}

func setMode(client *http.Client, sourceURL, mode string) error {
	resp, err := client.Post(sourceURL+"/control?mode="+url.QueryEscape(mode), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control returned %d", resp.StatusCode)
	}
	return nil
}
