// Load generator for testing Warden against simulated player traffic.
//
// Usage:
//   go run cmd/loadgen/main.go -url http://localhost:8080 -humans 80 -macros 20
//
// This tool:
//   1. Simulates two player populations: humans (jittered timing, occasional
//      misses) and macro users (machine-regular timing, perfect play)
//   2. Streams record + check calls to Warden for every simulated action
//   3. Compares Warden's verdicts with the known player labels
//   4. Calculates precision, recall, F1-score, and a confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Player is one simulated participant with a known ground-truth label.
type Player struct {
	UserID    string
	DeviceID  string
	IPAddress string
	IsMacro   bool
}

// ActionRequest is the Warden record/check API request format.
type ActionRequest struct {
	UserID     string         `json:"userId"`
	ActionType string         `json:"type"`
	GameID     string         `json:"gameId,omitempty"`
	DeviceID   string         `json:"deviceId,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Decision is the Warden check API response format.
type Decision struct {
	Suspicious bool    `json:"suspicious"`
	Blocked    bool    `json:"blocked"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ScoreRequest is the Warden score validation request format.
type ScoreRequest struct {
	UserID          string  `json:"userId"`
	Score           float64 `json:"score"`
	DurationSeconds float64 `json:"durationSeconds"`
	ActionsCount    int     `json:"actionsCount"`
	GameID          string  `json:"gameId,omitempty"`
	DeviceID        string  `json:"deviceId,omitempty"`
	IPAddress       string  `json:"ipAddress,omitempty"`
}

// Metrics tracks load generation results.
type Metrics struct {
	TruePositives  int64 // Macro flagged as suspicious
	FalsePositives int64 // Human flagged as suspicious
	TrueNegatives  int64 // Human passed clean
	FalseNegatives int64 // Macro passed clean (missed macro!)

	TotalPlayers int64
	TotalActions int64
	TotalErrors  int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Warden base URL")
	humans := flag.Int("humans", 80, "Number of simulated human players")
	macros := flag.Int("macros", 20, "Number of simulated macro users")
	actions := flag.Int("actions", 30, "Actions per player session")
	workers := flag.Int("workers", 10, "Number of concurrent players")
	gameID := flag.String("game", "gem-rush", "Game ID for simulated sessions")
	seed := flag.Int64("seed", time.Now().UnixNano(), "RNG seed for reproducible runs")
	verbose := flag.Bool("verbose", false, "Print each player's verdict")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          WARDEN LOADGEN - Simulated Player Traffic            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nWarden URL:  %s\n", *baseURL)
	fmt.Printf("Humans:      %d\n", *humans)
	fmt.Printf("Macros:      %d\n", *macros)
	fmt.Printf("Actions:     %d per player\n", *actions)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Warden not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Warden is running:")
		fmt.Println("  go run cmd/warden/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Warden is healthy")

	players := buildPlayers(*humans, *macros, *seed)
	fmt.Printf("✓ Generated %d players (%d human, %d macro)\n", len(players), *humans, *macros)

	fmt.Printf("\nRunning load with %d concurrent players...\n", *workers)
	startTime := time.Now()
	metrics := runLoad(players, *baseURL, *gameID, *actions, *workers, *seed, *verbose)
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

func buildPlayers(humans, macros int, seed int64) []Player {
	rng := rand.New(rand.NewSource(seed))
	players := make([]Player, 0, humans+macros)
	for i := 0; i < humans; i++ {
		players = append(players, Player{
			UserID:    fmt.Sprintf("0xhuman%04d", i),
			DeviceID:  fmt.Sprintf("fp-human-%04d", i),
			IPAddress: fmt.Sprintf("10.1.%d.%d", rng.Intn(256), rng.Intn(256)),
			IsMacro:   false,
		})
	}
	for i := 0; i < macros; i++ {
		players = append(players, Player{
			UserID:    fmt.Sprintf("0xmacro%04d", i),
			DeviceID:  fmt.Sprintf("fp-macro-%04d", i),
			IPAddress: fmt.Sprintf("10.2.%d.%d", rng.Intn(256), rng.Intn(256)),
			IsMacro:   true,
		})
	}
	rng.Shuffle(len(players), func(i, j int) {
		players[i], players[j] = players[j], players[i]
	})
	return players
}

func runLoad(players []Player, baseURL, gameID string, actions, numWorkers int, seed int64, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Player, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}
			rng := rand.New(rand.NewSource(seed + int64(workerID)))

			for player := range work {
				start := time.Now()
				flagged, err := playSession(client, baseURL, gameID, player, actions, rng)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalPlayers, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", player.UserID, err)
					}
					continue
				}

				if flagged && player.IsMacro {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if flagged && !player.IsMacro {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !flagged && !player.IsMacro {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !flagged && player.IsMacro
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if flagged != player.IsMacro {
						status = "✗"
					}
					fmt.Printf("%s %-14s | Macro: %-5v | Flagged: %-5v | Session: %dms\n",
						status, player.UserID, player.IsMacro, flagged, elapsed)
				}
			}
		}(i)
	}

	for _, player := range players {
		work <- player
	}
	close(work)

	wg.Wait()

	return metrics
}

// playSession simulates one player session and reports whether Warden
// flagged the player at any point during it.
func playSession(client *http.Client, baseURL, gameID string, player Player, actions int, rng *rand.Rand) (bool, error) {
	flagged := false

	for i := 0; i < actions; i++ {
		req := ActionRequest{
			UserID:     player.UserID,
			ActionType: "tap",
			GameID:     gameID,
			DeviceID:   player.DeviceID,
			IPAddress:  player.IPAddress,
			Payload:    actionPayload(player, rng),
		}

		if err := postJSON(client, baseURL+"/v1/actions", req, http.StatusAccepted, nil); err != nil {
			return flagged, err
		}

		var decision Decision
		if err := postJSON(client, baseURL+"/v1/actions/check", req, http.StatusOK, &decision); err != nil {
			return flagged, err
		}
		if decision.Suspicious {
			flagged = true
		}

		// Macros fire with machine regularity, humans wander.
		if player.IsMacro {
			time.Sleep(30 * time.Millisecond)
		} else {
			time.Sleep(time.Duration(150+rng.Intn(400)) * time.Millisecond)
		}
	}

	// End the session with a score submission. Macro scores are implausible
	// for the elapsed time, human scores are not.
	score := ScoreRequest{
		UserID:          player.UserID,
		DurationSeconds: float64(actions) * 0.4,
		ActionsCount:    actions,
		GameID:          gameID,
		DeviceID:        player.DeviceID,
		IPAddress:       player.IPAddress,
	}
	if player.IsMacro {
		score.Score = 90000 + rng.Float64()*10000
	} else {
		score.Score = 50 + rng.Float64()*500
	}

	var decision Decision
	if err := postJSON(client, baseURL+"/v1/scores/validate", score, http.StatusOK, &decision); err != nil {
		return flagged, err
	}
	if decision.Suspicious {
		flagged = true
	}

	return flagged, nil
}

func actionPayload(player Player, rng *rand.Rand) map[string]any {
	if player.IsMacro {
		return map[string]any{"perfect": true}
	}
	// Humans miss roughly a fifth of the time.
	if rng.Intn(5) == 0 {
		return map[string]any{"correct": false}
	}
	return map[string]any{"perfect": rng.Intn(3) == 0}
}

func postJSON(client *http.Client, url string, payload any, wantStatus int, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                       LOADGEN RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 POPULATION STATISTICS\n")
	fmt.Printf("   Players Run:      %d\n", m.TotalPlayers)
	fmt.Printf("   Macro Players:    %d\n", m.TruePositives+m.FalseNegatives)
	fmt.Printf("   Human Players:    %d\n", m.TrueNegatives+m.FalsePositives)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED       CLEAN")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  M  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           H  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual macros)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of macros, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct verdicts)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if macroTotal := m.TruePositives + m.FalseNegatives; macroTotal > 0 {
		detectionRate := float64(m.TruePositives) / float64(macroTotal) * 100
		missRate := float64(m.FalseNegatives) / float64(macroTotal) * 100
		fmt.Printf("   Macros Caught:     %d / %d (%.2f%%)\n", m.TruePositives, macroTotal, detectionRate)
		fmt.Printf("   Macros Missed:     %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, macroTotal, missRate)
	}
	if humanTotal := m.TrueNegatives + m.FalsePositives; humanTotal > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(humanTotal) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, humanTotal, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalPlayers > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalPlayers)
		pps := float64(m.TotalPlayers) / duration.Seconds()
		fmt.Printf("   Avg Session:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f players/sec\n", pps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most macros")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some macros")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant macro use slipping through")
	} else {
		fmt.Println("   ❌ Poor recall - most macros are being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many honest players flagged")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
