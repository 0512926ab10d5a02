// Command otpcheck drives a running server through login-request and then
// fires concurrent verify-login-otp calls with the same code. Exactly one
// of them should be accepted.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
)

// ==============================================
// REQUEST MODELS (match the API)
// ==============================================

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
}

type verifyRequest struct {
	UserID string `json:"userId"`
	OTP    string `json:"otp"`
}

// ==============================================
// METRICS
// ==============================================

type metrics struct {
	total     int64
	accepted  int64
	rejected  int64
	limited   int64
	errored   int64
	durations int64 // milliseconds
}

func (m *metrics) print(elapsed time.Duration) {
	total := atomic.LoadInt64(&m.total)

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("📊 CONCURRENT VERIFY RESULTS")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Submissions:        %d\n", total)
	fmt.Printf("Accepted (200):     %d\n", atomic.LoadInt64(&m.accepted))
	fmt.Printf("Rejected (401):     %d\n", atomic.LoadInt64(&m.rejected))
	fmt.Printf("Locked (429):       %d\n", atomic.LoadInt64(&m.limited))
	fmt.Printf("Other/errors:       %d\n", atomic.LoadInt64(&m.errored))
	fmt.Println(strings.Repeat("-", 60))
	if total > 0 {
		fmt.Printf("Avg Response Time:  %dms\n", atomic.LoadInt64(&m.durations)/total)
	}
	fmt.Printf("Total Time:         %v\n", elapsed)
	fmt.Println(strings.Repeat("=", 60))
}

// ==============================================
// HELPER FUNCTIONS
// ==============================================

func postJSON(client *http.Client, url string, body interface{}) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func readCode(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ==============================================
// MAIN
// ==============================================

func main() {
	baseURL := pflag.String("url", "http://localhost:8080/api/v1/auth", "auth API base URL")
	email := pflag.String("email", "", "account email")
	password := pflag.String("password", "", "account password")
	code := pflag.String("otp", "", "login code; prompted for when empty")
	workers := pflag.IntP("concurrency", "c", 20, "concurrent verify submissions")
	pflag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: otpcheck --email you@example.com --password ... [-c 20]")
		os.Exit(2)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// 1. credentials -> otp-pending
	fmt.Println("🔍 Requesting login code...")
	status, raw, err := postJSON(client, *baseURL+"/login-request", loginRequest{Email: *email, Password: *password})
	if err != nil {
		fmt.Println("❌ login-request failed:", err)
		os.Exit(1)
	}
	if status != http.StatusOK {
		fmt.Printf("❌ login-request -> %d: %s\n", status, raw)
		os.Exit(1)
	}

	var login loginResponse
	if err := json.Unmarshal(raw, &login); err != nil {
		fmt.Println("❌ bad login-request response:", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Code sent to %s (user %s)\n", login.Email, login.UserID)

	if *code == "" {
		if *code, err = readCode("Enter the code: "); err != nil {
			fmt.Println("❌ could not read code:", err)
			os.Exit(1)
		}
	}

	// 2. same code, many submitters
	var m metrics
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			<-start

			began := time.Now()
			status, raw, err := postJSON(client, *baseURL+"/verify-login-otp", verifyRequest{UserID: login.UserID, OTP: *code})
			atomic.AddInt64(&m.durations, time.Since(began).Milliseconds())
			atomic.AddInt64(&m.total, 1)

			switch {
			case err != nil:
				atomic.AddInt64(&m.errored, 1)
				fmt.Printf("❌ worker %d: %v\n", workerID, err)
			case status == http.StatusOK:
				atomic.AddInt64(&m.accepted, 1)
				fmt.Printf("✅ worker %d -> 200\n", workerID)
			case status == http.StatusUnauthorized:
				atomic.AddInt64(&m.rejected, 1)
			case status == http.StatusTooManyRequests:
				atomic.AddInt64(&m.limited, 1)
			default:
				atomic.AddInt64(&m.errored, 1)
				fmt.Printf("⚠️  worker %d -> %d: %s\n", workerID, status, raw)
			}
		}(i)
	}

	began := time.Now()
	close(start)
	wg.Wait()
	m.print(time.Since(began))

	if accepted := atomic.LoadInt64(&m.accepted); accepted != 1 {
		fmt.Printf("\n❌ expected exactly one accepted submission, got %d\n", accepted)
		os.Exit(1)
	}
	fmt.Println("\n🚀 Code was accepted exactly once")
}
