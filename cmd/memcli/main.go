package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:3210", "mnemo server URL")
	namespace := flag.String("namespace", "cli-user", "memory namespace")
	flag.Parse()

	fmt.Println("mnemo CLI")
	fmt.Printf("Server: %s | Namespace: %s\n", *server, *namespace)
	fmt.Println("Type text to store it as a memory. Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /recall <query>, /reflect [YYYY-MM-DD], /patterns, /stats")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}

		switch {
		case strings.HasPrefix(input, "/recall "):
			recall(*server, *namespace, strings.TrimPrefix(input, "/recall "))
		case input == "/reflect" || strings.HasPrefix(input, "/reflect "):
			date := strings.TrimSpace(strings.TrimPrefix(input, "/reflect"))
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			reflect(*server, *namespace, date)
		case input == "/patterns":
			patterns(*server, *namespace)
		case input == "/stats":
			stats(*server, *namespace)
		default:
			storeTurn(*server, *namespace, input)
		}
	}
}

func storeTurn(server, namespace, text string) {
	body, _ := json.Marshal(map[string]string{
		"namespace": namespace,
		"text":      text,
		"actor":     "user",
	})

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(server+"/api/memories", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var ev struct {
		ID       string  `json:"id"`
		Dominant string  `json:"dominant_emotion"`
		Salience float64 `json:"salience_score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	fmt.Printf("\033[36mstored\033[0m %s  emotion=%s salience=%.2f\n", ev.ID, ev.Dominant, ev.Salience)
}

func recall(server, namespace, query string) {
	u := fmt.Sprintf("%s/api/memories/recall?namespace=%s&q=%s&limit=5",
		server, url.QueryEscape(namespace), url.QueryEscape(query))
	resp, err := http.Get(u)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Count    int `json:"count"`
		Memories []struct {
			Event struct {
				Content   string    `json:"content"`
				Dominant  string    `json:"dominant_emotion"`
				Timestamp time.Time `json:"timestamp"`
			} `json:"event"`
			Salience float64 `json:"salience"`
		} `json:"memories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	if body.Count == 0 {
		fmt.Println("No memories matched.")
		return
	}
	for _, m := range body.Memories {
		fmt.Printf("  [%.2f] %s  \033[90m(%s, %s)\033[0m\n",
			m.Salience, m.Event.Content,
			m.Event.Dominant, m.Event.Timestamp.Format("Jan 2 15:04"))
	}
}

func reflect(server, namespace, date string) {
	u := fmt.Sprintf("%s/api/reflections/daily/%s?namespace=%s",
		server, date, url.QueryEscape(namespace))
	resp, err := http.Get(u)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return
	}

	var ref struct {
		Empty     bool     `json:"empty"`
		KeyEvents []string `json:"key_events"`
		Themes    []struct {
			Label string `json:"label"`
		} `json:"themes"`
		Tone struct {
			Dominant  string  `json:"dominant"`
			Sentiment float64 `json:"sentiment"`
		} `json:"emotional_tone"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	if ref.Empty {
		fmt.Printf("Nothing remembered on %s.\n", date)
		return
	}
	fmt.Printf("Reflection for %s: tone=%s (%.2f), %d key events\n",
		date, ref.Tone.Dominant, ref.Tone.Sentiment, len(ref.KeyEvents))
	for _, th := range ref.Themes {
		fmt.Printf("  theme: %s\n", th.Label)
	}
}

func patterns(server, namespace string) {
	u := fmt.Sprintf("%s/api/patterns?namespace=%s&days=30", server, url.QueryEscape(namespace))
	resp, err := http.Get(u)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var p struct {
		EventCount int `json:"event_count"`
		Tone       struct {
			Dominant string `json:"dominant"`
		} `json:"emotional_tone"`
		EventTypes []struct {
			Type  string `json:"type"`
			Count int    `json:"count"`
		} `json:"event_types"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	fmt.Printf("Last 30 days: %d events, dominant tone %s\n", p.EventCount, p.Tone.Dominant)
	for _, et := range p.EventTypes {
		fmt.Printf("  %s: %d\n", et.Type, et.Count)
	}
}

func stats(server, namespace string) {
	u := fmt.Sprintf("%s/api/stats?namespace=%s", server, url.QueryEscape(namespace))
	resp, err := http.Get(u)
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var st struct {
		Store struct {
			EventCount   int64   `json:"event_count"`
			Reflections  int64   `json:"reflection_count"`
			MeanSalience float64 `json:"mean_salience"`
		} `json:"store"`
		Graph *struct {
			Nodes    int64 `json:"nodes"`
			Edges    int64 `json:"edges"`
			Clusters int   `json:"clusters"`
		} `json:"graph"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	fmt.Printf("Events: %d | Reflections: %d | Mean salience: %.2f\n",
		st.Store.EventCount, st.Store.Reflections, st.Store.MeanSalience)
	if st.Graph != nil {
		fmt.Printf("Graph: %d nodes, %d edges, %d clusters\n",
			st.Graph.Nodes, st.Graph.Edges, st.Graph.Clusters)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
