// cmd/cortex/main.go
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colebrumley/cortex/internal/action"
	"github.com/colebrumley/cortex/internal/config"
	"github.com/colebrumley/cortex/internal/rules"
)

const launchdLabel = "com.cortex.daemon"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit()
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "restart":
		err = cmdRestart()
	case "status":
		err = cmdStatus()
	case "list":
		err = cmdList()
	case "validate":
		err = cmdValidate(args)
	case "compile":
		err = cmdCompile(args)
	case "logs":
		err = cmdLogs(args)
	case "uninstall":
		err = cmdUninstall(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`cortex - watches what you do and nudges you back to your goal

Usage: cortex <command> [options]

Commands:
  init                 Create config, rules directory and LaunchAgent
  start                Start the daemon
  stop                 Stop the daemon
  restart              Restart the daemon
  status               Show daemon status
  list                 List rules
  validate [rule]      Validate rule files
  compile [-save] text Turn a sentence into a rule
  logs [-f] [actions]  View daemon or action logs
  uninstall            Stop the daemon and remove the LaunchAgent`)
}

func configPath() string {
	if p := os.Getenv("CORTEX_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(config.SupportDir(), "config.yaml")
}

func plistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

// loadConfig falls back to defaults when no config file exists yet.
func loadConfig() (*config.Global, error) {
	cfg, err := config.LoadGlobal(configPath())
	if err != nil {
		if _, statErr := os.Stat(configPath()); os.IsNotExist(statErr) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func rulesDir(cfg *config.Global) string {
	if dir := os.Getenv("CORTEX_RULES_DIR"); dir != "" {
		return dir
	}
	return cfg.Daemon.RulesDir
}

func cmdInit() error {
	cfg := config.Default()
	dirs := []string{
		config.SupportDir(),
		filepath.Join(config.SupportDir(), "logs"),
		cfg.Daemon.RulesDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		fmt.Printf("Created %s\n", dir)
	}
	if err := os.Chmod(cfg.Daemon.RulesDir, 0700); err != nil {
		return fmt.Errorf("setting rules directory permissions: %w", err)
	}

	path := configPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.Goal = "Describe what you are working towards"
		cfg.Logging.Path = filepath.Join(config.SupportDir(), "logs", "cortexd.log")
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", path)
	}

	if _, err := os.Stat(plistPath()); os.IsNotExist(err) {
		if err := writePlist(); err != nil {
			return err
		}
		fmt.Printf("Created %s\n", plistPath())
	}

	fmt.Println("\nInitialization complete. Set your goal in", path)
	fmt.Println("and add rules to:", cfg.Daemon.RulesDir)
	return nil
}

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
	</array>
	<key>EnvironmentVariables</key>
	<dict>
		<key>CORTEX_CONFIG</key>
		<string>%s</string>
	</dict>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardErrorPath</key>
	<string>%s</string>
</dict>
</plist>
`

func writePlist() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating cortex binary: %w", err)
	}
	daemonPath := filepath.Join(filepath.Dir(self), "cortexd")
	stderrPath := filepath.Join(config.SupportDir(), "logs", "cortexd.stderr.log")

	if err := os.MkdirAll(filepath.Dir(plistPath()), 0755); err != nil {
		return fmt.Errorf("creating LaunchAgents directory: %w", err)
	}
	content := fmt.Sprintf(plistTemplate, launchdLabel, daemonPath, configPath(), stderrPath)
	return os.WriteFile(plistPath(), []byte(content), 0644)
}

func cmdStart() error {
	if isRunning() {
		fmt.Println("Daemon is already running")
		return nil
	}

	cmd := exec.Command("launchctl", "load", plistPath())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Println("Daemon started")
	return nil
}

func cmdStop() error {
	if !isRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}

	cmd := exec.Command("launchctl", "unload", plistPath())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	fmt.Println("Daemon stopped")
	return nil
}

func cmdRestart() error {
	if isRunning() {
		if err := cmdStop(); err != nil {
			return err
		}
	}
	return cmdStart()
}

func isRunning() bool {
	cmd := exec.Command("launchctl", "list", launchdLabel)
	return cmd.Run() == nil
}

func apiURL(cfg *config.Global, path string) string {
	host := net.JoinHostPort(cfg.Daemon.ListenAddress, strconv.Itoa(cfg.Daemon.ListenPort))
	return "http://" + host + path
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func getJSON(url string, v any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func cmdStatus() error {
	if !isRunning() {
		fmt.Println("Daemon is not running")
		return nil
	}
	fmt.Println("Daemon is running")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var health struct {
		Uptime      string `json:"uptime"`
		State       string `json:"state"`
		RulesLoaded int    `json:"rules_loaded"`
		RulesActive int    `json:"rules_active"`
		Refused     uint64 `json:"cycles_refused"`
		LastCycle   *struct {
			Cycle     uint64    `json:"cycle"`
			Outcome   string    `json:"outcome"`
			StartedAt time.Time `json:"started_at"`
		} `json:"last_cycle"`
		Extension struct {
			Connected bool `json:"connected"`
		} `json:"extension"`
	}
	if err := getJSON(apiURL(cfg, "/health"), &health); err != nil {
		fmt.Printf("API unreachable: %v\n", err)
		return nil
	}

	fmt.Printf("  uptime:     %s\n", health.Uptime)
	fmt.Printf("  state:      %s\n", health.State)
	fmt.Printf("  rules:      %d active of %d\n", health.RulesActive, health.RulesLoaded)
	fmt.Printf("  extension:  %v\n", health.Extension.Connected)
	if health.LastCycle != nil {
		fmt.Printf("  last cycle: #%d %s at %s\n", health.LastCycle.Cycle, health.LastCycle.Outcome,
			health.LastCycle.StartedAt.Local().Format(time.Kitchen))
	}
	if health.Refused > 0 {
		fmt.Printf("  refused:    %d\n", health.Refused)
	}
	return nil
}

// cmdList asks the running daemon, which also knows API rules, and falls
// back to the rule files.
func cmdList() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var list []rules.Rule
	if err := getJSON(apiURL(cfg, "/api/rules"), &list); err != nil {
		list, err = config.LoadRulesDir(rulesDir(cfg))
		if err != nil {
			return err
		}
	}

	if len(list) == 0 {
		fmt.Println("No rules found")
		return nil
	}

	fmt.Printf("%-24s %-7s %-12s %-9s %s\n", "ID", "ACTIVE", "TYPE", "PRIORITY", "NAME")
	fmt.Println(strings.Repeat("-", 78))

	for _, rule := range list {
		active := "yes"
		if !rule.IsActive {
			active = "no"
		}
		id := rule.ID
		if len(id) > 24 {
			id = id[:21] + "..."
		}
		fmt.Printf("%-24s %-7s %-12s %-9d %s\n", id, active, rule.Type, rule.Priority, rule.Name)
	}

	return nil
}

func cmdValidate(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := rulesDir(cfg)

	if len(args) > 0 {
		rulePath := filepath.Join(dir, args[0]+".yaml")
		rule, err := config.LoadRule(rulePath)
		if err != nil {
			return fmt.Errorf("invalid rule %s: %w", args[0], err)
		}
		warnPlaceholders(rule)
		fmt.Printf("Rule '%s' is valid\n", args[0])
		return nil
	}

	loaded, err := config.LoadRulesDir(dir)
	if err != nil {
		return err
	}
	for _, rule := range loaded {
		warnPlaceholders(rule)
	}

	fmt.Printf("Validated %d rules\n", len(loaded))
	return nil
}

func warnPlaceholders(rule rules.Rule) {
	for _, name := range action.UnknownPlaceholders(rule) {
		fmt.Printf("warning: rule '%s' uses unknown placeholder {{%s}}\n", rule.ID, name)
	}
}

func cmdCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	save := fs.Bool("save", false, "add the rule to the running daemon")
	fs.Parse(args)

	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return fmt.Errorf(`usage: cortex compile [-save] "no instagram for more than 10 minutes"`)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"text": text, "save": *save})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Post(apiURL(cfg, "/api/rules/compile"), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("compile failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(out)))
	}

	var rule rules.Rule
	if err := json.Unmarshal(out, &rule); err != nil {
		return fmt.Errorf("decoding compiled rule: %w", err)
	}
	doc, err := yaml.Marshal(rule)
	if err != nil {
		return err
	}
	os.Stdout.Write(doc)
	if *save {
		fmt.Fprintf(os.Stderr, "Saved rule %s\n", rule.ID)
	}
	return nil
}

func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	follow := fs.Bool("f", false, "follow logs")
	fs.BoolVar(follow, "follow", false, "follow logs")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logPath := cfg.Logging.Path
	if logPath == "" {
		logPath = filepath.Join(config.SupportDir(), "logs", "cortexd.log")
	}
	if fs.NArg() > 0 && fs.Arg(0) == "actions" {
		logPath = cfg.Actions.LogPath
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s", logPath)
	}

	tailArgs := []string{"-n", "50"}
	if *follow {
		tailArgs = append(tailArgs, "-f")
	}
	tailArgs = append(tailArgs, logPath)

	cmd := exec.Command("tail", tailArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func cmdUninstall(args []string) error {
	fs := flag.NewFlagSet("uninstall", flag.ExitOnError)
	keepData := fs.Bool("keep-data", false, "keep config, rules and activity history")
	removeData := fs.Bool("remove-data", false, "remove config, rules and activity history without prompting")
	fs.Parse(args)

	if *keepData && *removeData {
		return fmt.Errorf("cannot specify both --keep-data and --remove-data")
	}

	if isRunning() {
		fmt.Println("Stopping daemon...")
		exec.Command("launchctl", "unload", plistPath()).Run()
	}

	if _, err := os.Stat(plistPath()); err == nil {
		if err := os.Remove(plistPath()); err != nil {
			return fmt.Errorf("removing plist: %w", err)
		}
		fmt.Println("Removed", plistPath())
	}

	if !*keepData {
		removeIt := *removeData
		if !removeIt {
			fmt.Print("Remove config, rules and activity history? (y/N): ")
			var response string
			fmt.Scanln(&response)
			removeIt = strings.ToLower(response) == "y"
		}

		if removeIt {
			if err := os.RemoveAll(config.SupportDir()); err != nil {
				return fmt.Errorf("removing data dir: %w", err)
			}
			fmt.Println("Removed", config.SupportDir())
		}
	}

	fmt.Println("\nUninstall complete.")
	return nil
}
