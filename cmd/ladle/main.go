// ABOUTME: CLI client for ladle-gateway
// ABOUTME: Chat, session management, tools, skills, and memory from the terminal

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
 _           _ _
| | __ _  __| | | ___
| |/ _' |/ _' | |/ _ \
| | (_| | (_| | |  __/
|_|\__,_|\__,_|_|\___|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	client := newAPIClient(cfg)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "login":
		err = cmdLogin(ctx, client, args)
	case "chat":
		err = cmdChat(ctx, client, cfg, args)
	case "status":
		err = cmdStatus(ctx, client)
	case "sessions":
		err = cmdSessions(ctx, client, args)
	case "tools":
		err = cmdTools(ctx, client, args)
	case "skills":
		err = cmdSkills(ctx, client, args)
	case "memory":
		err = cmdMemory(ctx, client, args)
	case "task":
		err = cmdTask(ctx, client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: ladle <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login <user>             Log in and print tokens")
	fmt.Println("  chat [-s key] <message>  Send a message to the agent")
	fmt.Println("  status                   Show agent and gateway status")
	fmt.Println("  sessions                 List sessions")
	fmt.Println("  sessions clear <key>     Clear a session's history")
	fmt.Println("  sessions delete <key>    Delete a session")
	fmt.Println("  sessions export <key>    Export a session as JSON")
	fmt.Println("  tools                    List registered tools")
	fmt.Println("  tools run <name> [json]  Execute a tool with JSON arguments")
	fmt.Println("  skills                   List discovered skills")
	fmt.Println("  skills on|off <name>     Activate or deactivate a skill")
	fmt.Println("  memory add <content>     Store a memory entry")
	fmt.Println("  memory search <query>    Search memory")
	fmt.Println("  task status <id>         Show an async task")
	fmt.Println("  task cancel <id>         Cancel an async task")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  LADLE_URL       Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  LADLE_TOKEN     JWT access token")
	fmt.Println("  LADLE_API_KEY   API key (used when no token is set)")
	fmt.Println()
	fmt.Printf("Config file: %s\n", configPath())
}

func cmdLogin(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ladle login <user>")
	}
	userID := args[0]

	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimSpace(line)

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := client.do(ctx, http.MethodPost, "/v1/auth/login", map[string]string{
		"user_id":  userID,
		"password": password,
	}, &result); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("Logged in.")
	fmt.Println()
	fmt.Printf("export LADLE_TOKEN=%s\n", result.AccessToken)
	fmt.Println()
	color.HiBlack("Refresh token (expires later, keep private):")
	fmt.Println(result.RefreshToken)
	return nil
}

func cmdChat(ctx context.Context, client *apiClient, cfg *Config, args []string) error {
	sessionKey := cfg.Chat.SessionKey
	if len(args) >= 2 && (args[0] == "-s" || args[0] == "--session") {
		sessionKey = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		return fmt.Errorf("usage: ladle chat [-s key] <message>")
	}
	message := strings.Join(args, " ")

	var result struct {
		Response   string `json:"response"`
		SessionKey string `json:"session_key"`
		Thinking   string `json:"thinking_content"`
	}
	if err := client.do(ctx, http.MethodPost, "/v1/agent/chat", map[string]any{
		"message":     message,
		"session_key": sessionKey,
	}, &result); err != nil {
		return err
	}

	if result.Thinking != "" {
		color.HiBlack(result.Thinking)
		fmt.Println()
	}
	fmt.Println(result.Response)
	color.HiBlack("\n[session: %s]", result.SessionKey)
	return nil
}

func cmdStatus(ctx context.Context, client *apiClient) error {
	var result struct {
		Agent struct {
			State         string `json:"status"`
			Model         string `json:"model"`
			Uptime        int64  `json:"uptime"`
			TotalRequests int64  `json:"total_requests"`
		} `json:"agent"`
		Stats struct {
			ActiveConnections int `json:"active_connections"`
			ActiveSessions    int `json:"active_sessions"`
			ToolsAvailable    int `json:"tools_available"`
			SkillsLoaded      int `json:"skills_loaded"`
		} `json:"stats"`
	}
	if err := client.do(ctx, http.MethodGet, "/v1/agent/status", nil, &result); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Agent:\t%s (%s)\n", result.Agent.State, result.Agent.Model)
	fmt.Fprintf(w, "Uptime:\t%s\n", (time.Duration(result.Agent.Uptime) * time.Second).String())
	fmt.Fprintf(w, "Requests:\t%d\n", result.Agent.TotalRequests)
	fmt.Fprintf(w, "Connections:\t%d\n", result.Stats.ActiveConnections)
	fmt.Fprintf(w, "Sessions:\t%d\n", result.Stats.ActiveSessions)
	fmt.Fprintf(w, "Tools:\t%d\n", result.Stats.ToolsAvailable)
	fmt.Fprintf(w, "Skills:\t%d\n", result.Stats.SkillsLoaded)
	return w.Flush()
}

func cmdSessions(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		var result struct {
			Sessions []struct {
				Key          string    `json:"key"`
				CreatedAt    time.Time `json:"created_at"`
				MessageCount int       `json:"message_count"`
			} `json:"sessions"`
		}
		if err := client.do(ctx, http.MethodGet, "/v1/sessions", nil, &result); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tMESSAGES\tCREATED")
		for _, s := range result.Sessions {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.Key, s.MessageCount, s.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	}

	if len(args) < 2 {
		return fmt.Errorf("usage: ladle sessions [list|clear|delete|export] <key>")
	}
	key := url.PathEscape(args[1])

	switch args[0] {
	case "clear":
		var result struct {
			MessagesRemoved int `json:"messages_removed"`
		}
		if err := client.do(ctx, http.MethodPost, "/v1/sessions/"+key+"/clear", nil, &result); err != nil {
			return err
		}
		fmt.Printf("Removed %d messages.\n", result.MessagesRemoved)
		return nil
	case "delete":
		if err := client.do(ctx, http.MethodDelete, "/v1/sessions/"+key, nil, nil); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	case "export":
		var result json.RawMessage
		if err := client.do(ctx, http.MethodGet, "/v1/sessions/"+key+"/export", nil, &result); err != nil {
			return err
		}
		fmt.Println(string(result))
		return nil
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", args[0])
	}
}

func cmdTools(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		var result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		}
		if err := client.do(ctx, http.MethodGet, "/v1/tools", nil, &result); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, tool := range result.Tools {
			fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
		}
		return w.Flush()
	}

	if args[0] != "run" || len(args) < 2 {
		return fmt.Errorf("usage: ladle tools run <name> [json-args]")
	}

	arguments := json.RawMessage(`{}`)
	if len(args) >= 3 {
		arguments = json.RawMessage(args[2])
	}

	var result struct {
		Result   json.RawMessage `json:"result"`
		Success  bool            `json:"success"`
		Error    string          `json:"error"`
		Duration int64           `json:"duration_ms"`
	}
	if err := client.do(ctx, http.MethodPost, "/v1/tools/"+url.PathEscape(args[1])+"/execute", map[string]any{
		"arguments": arguments,
	}, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("tool failed: %s", result.Error)
	}
	fmt.Println(string(result.Result))
	color.HiBlack("[%dms]", result.Duration)
	return nil
}

func cmdSkills(ctx context.Context, client *apiClient, args []string) error {
	if len(args) == 0 || args[0] == "list" {
		var result struct {
			Skills []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Version     string `json:"version"`
				Active      bool   `json:"active"`
			} `json:"skills"`
		}
		if err := client.do(ctx, http.MethodGet, "/v1/skills", nil, &result); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tACTIVE\tDESCRIPTION")
		for _, s := range result.Skills {
			active := ""
			if s.Active {
				active = "✓"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Version, active, s.Description)
		}
		return w.Flush()
	}

	if len(args) < 2 {
		return fmt.Errorf("usage: ladle skills [on|off] <name>")
	}
	name := url.PathEscape(args[1])

	switch args[0] {
	case "on", "activate":
		if err := client.do(ctx, http.MethodPost, "/v1/skills/"+name+"/activate", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Activated %s.\n", args[1])
		return nil
	case "off", "deactivate":
		if err := client.do(ctx, http.MethodPost, "/v1/skills/"+name+"/deactivate", nil, nil); err != nil {
			return err
		}
		fmt.Printf("Deactivated %s.\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown skills subcommand: %s", args[0])
	}
}

func cmdMemory(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: ladle memory [add|search] <text>")
	}

	switch args[0] {
	case "add":
		content := strings.Join(args[1:], " ")
		var entry struct {
			ID string `json:"id"`
		}
		if err := client.do(ctx, http.MethodPost, "/v1/memory", map[string]any{"content": content}, &entry); err != nil {
			return err
		}
		fmt.Printf("Stored %s.\n", entry.ID)
		return nil
	case "search":
		query := strings.Join(args[1:], " ")
		var result struct {
			Entries []struct {
				Content   string    `json:"content"`
				Tags      []string  `json:"tags"`
				CreatedAt time.Time `json:"created_at"`
			} `json:"entries"`
		}
		if err := client.do(ctx, http.MethodGet, "/v1/memory/search?q="+url.QueryEscape(query), nil, &result); err != nil {
			return err
		}
		for _, e := range result.Entries {
			fmt.Printf("- %s", e.Content)
			if len(e.Tags) > 0 {
				color.HiBlack(" [%s]", strings.Join(e.Tags, ", "))
			}
			fmt.Println()
		}
		return nil
	default:
		return fmt.Errorf("unknown memory subcommand: %s", args[0])
	}
}

func cmdTask(ctx context.Context, client *apiClient, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: ladle task [status|cancel] <id>")
	}
	id := url.PathEscape(args[1])

	var path, method string
	switch args[0] {
	case "status":
		method, path = http.MethodGet, "/v1/agent/tasks/"+id
	case "cancel":
		method, path = http.MethodPost, "/v1/agent/tasks/"+id+"/cancel"
	default:
		return fmt.Errorf("unknown task subcommand: %s", args[0])
	}

	var snap struct {
		ID       string          `json:"task_id"`
		Status   string          `json:"status"`
		Progress float64         `json:"progress"`
		Result   json.RawMessage `json:"result"`
		Error    string          `json:"error"`
	}
	if err := client.do(ctx, method, path, nil, &snap); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Task:\t%s\n", snap.ID)
	fmt.Fprintf(w, "Status:\t%s\n", snap.Status)
	fmt.Fprintf(w, "Progress:\t%.0f%%\n", snap.Progress*100)
	if snap.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", snap.Error)
	}
	if len(snap.Result) > 0 {
		fmt.Fprintf(w, "Result:\t%s\n", string(snap.Result))
	}
	return w.Flush()
}
