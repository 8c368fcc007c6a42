package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/JYehhh/tessenger/pkg/client"
	"github.com/JYehhh/tessenger/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

// account is one credentials file entry used by a simulated client.
type account struct {
	username string
	password string
}

// stats tracks load test counters across all simulated clients.
type stats struct {
	sent              atomic.Int64
	failed            atomic.Int64
	pushesReceived    atomic.Int64
	loginFailures     atomic.Int64
	totalResponseTime atomic.Int64 // microseconds
}

func main() {
	server := flag.String("server", "localhost:12000", "Server address (host:port)")
	credsPath := flag.String("credentials", "credentials.txt", "Credentials file with the accounts to simulate")
	clients := flag.Int("clients", 3, "Number of concurrent clients (capped at available accounts)")
	rate := flag.Duration("rate", 500*time.Millisecond, "Delay between messages per client")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	flag.Parse()

	log.SetLevel(log.WarnLevel)

	accounts, err := loadAccounts(*credsPath)
	if err != nil {
		log.Fatalf("Failed to load accounts: %v", err)
	}
	if *clients < len(accounts) {
		accounts = accounts[:*clients]
	}
	if len(accounts) < 2 {
		log.Fatal("Need at least two accounts to exchange messages")
	}

	fmt.Printf("Starting load test: %d clients against %s for %s\n", len(accounts), *server, *duration)

	var st stats
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for _, acct := range accounts {
		wg.Add(1)
		go func(acct account) {
			defer wg.Done()
			runClient(*server, acct, accounts, *rate, stop, &st)
		}(acct)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-time.After(*duration):
	case sig := <-sigCh:
		fmt.Printf("Received %v, stopping early\n", sig)
	}
	close(stop)
	wg.Wait()

	printSummary(&st, *duration)
}

func loadAccounts(path string) ([]account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var accounts []account
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		accounts = append(accounts, account{username: fields[0], password: fields[1]})
	}
	return accounts, scanner.Err()
}

// runClient logs one account in and sends direct messages to random peers
// until stop closes.
func runClient(server string, acct account, accounts []account, rate time.Duration, stop chan struct{}, st *stats) {
	conn := client.NewConnection(server)
	if err := conn.Connect(); err != nil {
		st.loginFailures.Add(1)
		return
	}
	defer conn.Close()

	resp, err := conn.Login(acct.username, acct.password, "0")
	if err != nil || resp.StatusCode != protocol.StatusSuccess {
		st.loginFailures.Add(1)
		return
	}
	conn.Start()

	go func() {
		for range conn.Pushes() {
			st.pushesReceived.Add(1)
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			conn.Request(protocol.ReqLogout)
			return
		case <-ticker.C:
		}

		target := accounts[rng.Intn(len(accounts))].username
		if target == acct.username {
			continue
		}

		start := time.Now()
		resp, err := conn.Request(fmt.Sprintf("%s %s %s", protocol.ReqMsgTo, target, randomMessage(rng)))
		if err != nil {
			st.failed.Add(1)
			return
		}
		st.totalResponseTime.Add(time.Since(start).Microseconds())
		if resp.StatusCode == protocol.StatusSuccess {
			st.sent.Add(1)
		} else {
			// Recipient may have logged out already; count it but keep going.
			st.failed.Add(1)
		}
	}
}

func randomMessage(rng *rand.Rand) string {
	count := 3 + rng.Intn(10)
	words := make([]string, count)
	for i := range words {
		words[i] = loremWords[rng.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

func printSummary(st *stats, duration time.Duration) {
	sent := st.sent.Load()
	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Messages sent:     %d (%.1f/sec)\n", sent, float64(sent)/duration.Seconds())
	fmt.Printf("Messages failed:   %d\n", st.failed.Load())
	fmt.Printf("Pushes received:   %d\n", st.pushesReceived.Load())
	fmt.Printf("Login failures:    %d\n", st.loginFailures.Load())
	if sent > 0 {
		avg := time.Duration(st.totalResponseTime.Load()/sent) * time.Microsecond
		fmt.Printf("Avg response time: %s\n", avg)
	}
}
