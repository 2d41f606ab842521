package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/kafka"
)

var userPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func userID(idx int) string {
	return fmt.Sprintf("%s%d", strings.ToLower(userPrefixes[idx%len(userPrefixes)]), idx/len(userPrefixes)+1)
}

// activity is a simulated multi-level activity
type activity struct {
	id            string
	levels        int
	coinsPerLevel int64
	xp            int64
}

func catalog(n int) []activity {
	out := make([]activity, n)
	for i := range out {
		out[i] = activity{
			id:            fmt.Sprintf("activity-%03d", i+1),
			levels:        rand.Intn(5) + 1,
			coinsPerLevel: int64(rand.Intn(4)+1) * 5,
			xp:            int64(rand.Intn(8)+2) * 10,
		}
	}
	return out
}

// progressSim tracks how far each simulated user got so reports advance
// level by level, with a share of duplicates and replays mixed in.
type progressSim struct {
	activities []activity
	levels     map[string]int
}

func (s *progressSim) next(user string) domain.CompletionReport {
	a := s.activities[rand.Intn(len(s.activities))]
	key := user + "/" + a.id
	done := s.levels[key]

	report := domain.CompletionReport{
		ActivityID:    a.id,
		TotalLevels:   a.levels,
		CoinsPerLevel: a.coinsPerLevel,
		TotalCoins:    a.coinsPerLevel * int64(a.levels),
		TotalXP:       a.xp,
		MaxScore:      10,
		Score:         rand.Intn(11),
	}

	switch {
	case done >= a.levels:
		report.LevelsCompleted = a.levels
		report.IsFullCompletion = true
		report.IsReplay = rand.Intn(2) == 0
	case rand.Intn(10) == 0:
		// duplicate delivery of the last report
		report.LevelsCompleted = done
	default:
		done++
		s.levels[key] = done
		report.LevelsCompleted = done
		report.IsFullCompletion = done == a.levels
	}
	return report
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "activity-completions", "Kafka topic")
	totalUsers := flag.Int("users", 200, "Number of simulated users")
	totalActivities := flag.Int("activities", 30, "Number of simulated activities")
	reportsPerSecond := flag.Int("rate", 50, "Completion reports per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *reportsPerSecond <= 0 || *totalUsers <= 0 || *totalActivities <= 0 {
		log.Fatal("users, activities and rate must be positive")
	}
	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Completion report producer")
	fmt.Printf("  Brokers:      %s\n", *brokers)
	fmt.Printf("  Topic:        %s\n", *topic)
	fmt.Printf("  Users:        %d\n", *totalUsers)
	fmt.Printf("  Activities:   %d\n", *totalActivities)
	fmt.Printf("  Reports/sec:  %d\n", *reportsPerSecond)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	// Key by user so one user's reports stay on one partition, in order.
	send := func(msg kafka.CompletionMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(msg.UserID),
			Value: sarama.ByteEncoder(data),
		}
	}

	sim := &progressSim{activities: catalog(*totalActivities), levels: make(map[string]int)}

	ticker := time.NewTicker(time.Second / time.Duration(*reportsPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var reportCount int64
	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}

			// a fifth of the users produce most of the traffic
			var idx int
			if rand.Intn(100) < 70 {
				idx = rand.Intn(max(*totalUsers/5, 1))
			} else {
				idx = rand.Intn(*totalUsers)
			}
			user := userID(idx)
			send(kafka.CompletionMessage{UserID: user, Report: sim.next(user)})
			reportCount++

		case <-statsTicker.C:
			fmt.Printf("[%s] Reports: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				reportCount,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
