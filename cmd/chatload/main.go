// Command chatload drives many CHAT/1.0 clients against a server and
// reports broadcast throughput and delivery latency.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/tcpchat/pkg/client"
	"github.com/aeolun/tcpchat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	sendFailures      atomic.Int64
	messagesDelivered atomic.Int64
	totalLatency      atomic.Int64 // in microseconds, over delivered messages
	maxLatency        atomic.Int64

	connectErrors  atomic.Int64
	authFailures   atomic.Int64
	joinFailures   atomic.Int64
	disconnections atomic.Int64

	successfulClients atomic.Int64
}

func (s *Stats) recordDelivery(latency time.Duration) {
	us := latency.Microseconds()
	s.messagesDelivered.Add(1)
	s.totalLatency.Add(us)
	for {
		cur := s.maxLatency.Load()
		if us <= cur || s.maxLatency.CompareAndSwap(cur, us) {
			return
		}
	}
}

func (s *Stats) snapshot() (sent, delivered int64, avgLatencyUs float64) {
	sent = s.messagesSent.Load()
	delivered = s.messagesDelivered.Load()
	if delivered > 0 {
		avgLatencyUs = float64(s.totalLatency.Load()) / float64(delivered)
	}
	return
}

// BotClient is one simulated user
type BotClient struct {
	id       int
	username string
	conn     *client.Connection
	stats    *Stats
}

func NewBotClient(ctx context.Context, id int, serverAddr, token string, stats *Stats) (*BotClient, error) {
	conn, err := client.Dial(ctx, serverAddr)
	if err != nil {
		stats.connectErrors.Add(1)
		return nil, err
	}

	bot := &BotClient{
		id:       id,
		username: fmt.Sprintf("bot%04d", id),
		conn:     conn,
		stats:    stats,
	}

	if err := conn.Auth(bot.username, token); err != nil {
		stats.authFailures.Add(1)
		conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if err := conn.Join(); err != nil {
		stats.joinFailures.Add(1)
		conn.Close()
		return nil, fmt.Errorf("join: %w", err)
	}
	return bot, nil
}

// Run posts at random intervals until ctx ends, then leaves. Messages from
// other bots carry their send time, which gives the delivery latency.
func (bc *BotClient) Run(ctx context.Context, minDelay, maxDelay time.Duration) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bc.receive()
	}()

	for {
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}

		select {
		case <-ctx.Done():
			if err := bc.conn.Leave(); err != nil && !errors.Is(err, client.ErrConnectionClosed) {
				debugLogger.Printf("[%s] leave: %v", bc.username, err)
			}
			bc.conn.Close()
			<-done
			return
		case <-done:
			bc.stats.disconnections.Add(1)
			bc.conn.Close()
			return
		case <-time.After(delay):
		}

		if err := bc.conn.Send(bc.message()); err != nil {
			bc.stats.sendFailures.Add(1)
			debugLogger.Printf("[%s] send: %v", bc.username, err)
			continue
		}
		bc.stats.messagesSent.Add(1)
	}
}

func (bc *BotClient) receive() {
	for {
		select {
		case msg, ok := <-bc.conn.Messages():
			if !ok {
				return
			}
			if msg.Get(protocol.HeaderUser) == protocol.ServerUser {
				continue
			}
			if sentAt, ok := parseTimestamp(msg.Body); ok {
				bc.stats.recordDelivery(time.Since(sentAt))
			}
		case err := <-bc.conn.Errors():
			debugLogger.Printf("[%s] %v", bc.username, err)
		}
	}
}

// message is "<unix nanos> <lorem words>"
func (bc *BotClient) message() string {
	n := 3 + rand.Intn(12)
	start := rand.Intn(len(loremWords))
	words := make([]string, 0, n)
	for i := 0; i < n; i++ {
		words = append(words, loremWords[(start+i)%len(loremWords)])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10) + " " + strings.Join(words, " ")
}

func parseTimestamp(body []byte) (time.Time, bool) {
	head, _, found := strings.Cut(string(body), " ")
	if !found {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

var debugLogger = log.New(os.Stderr, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)

func main() {
	serverAddr := flag.String("server", "localhost:1337", "Server address (host:port or ws://host:port/ws)")
	token := flag.String("token", "secret123", "Auth token")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between posts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between posts")
	verbose := flag.Bool("verbose", false, "Log per-bot errors")
	flag.Parse()

	if !*verbose {
		debugLogger.SetOutput(io.Discard)
	}

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, rampUpDuration+*duration)
	defer cancel()

	stats := &Stats{}
	startTime := time.Now()

	// Stats reporter
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, delivered, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d clients, %d sent (%.1f/s), %d delivered (%.1f/s), avg latency %.2fms, goroutines %d",
					stats.successfulClients.Load(), sent, float64(sent)/elapsed,
					delivered, float64(delivered)/elapsed, avgUs/1000.0, runtime.NumGoroutine())
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
spawn:
	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
			bot, err := NewBotClient(dialCtx, id, *serverAddr, *token, stats)
			dialCancel()
			if err != nil {
				debugLogger.Printf("[bot %d] setup failed: %v", id, err)
				return
			}
			stats.successfulClients.Add(1)
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected", id)
			}
			bot.Run(ctx, *minDelay, *maxDelay)
		}(i)

		select {
		case <-ctx.Done():
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()

	sent, delivered, avgUs := stats.snapshot()
	clients := stats.successfulClients.Load()
	elapsed := time.Since(startTime)

	// Each message fans out to every other joined bot
	expectedDeliveries := sent * max(clients-1, 0)
	deliveryRate := 0.0
	if expectedDeliveries > 0 {
		deliveryRate = float64(delivered) / float64(expectedDeliveries) * 100
	}

	log.Printf("=== Final Results ===")
	log.Printf("Clients: %d attempted, %d successful", *numClients, clients)
	log.Printf("  - Connect errors: %d", stats.connectErrors.Load())
	log.Printf("  - AUTH failures: %d", stats.authFailures.Load())
	log.Printf("  - JOIN failures: %d", stats.joinFailures.Load())
	log.Printf("  - Disconnected early: %d", stats.disconnections.Load())
	log.Printf("Duration: %v", elapsed.Round(time.Second))
	log.Printf("Messages sent: %d (%.1f/s), %d send failures", sent, float64(sent)/elapsed.Seconds(), stats.sendFailures.Load())
	log.Printf("Deliveries: %d of ~%d expected (%.1f%%)", delivered, expectedDeliveries, deliveryRate)
	log.Printf("Latency: avg %.2fms, max %.2fms", avgUs/1000.0, float64(stats.maxLatency.Load())/1000.0)
}
