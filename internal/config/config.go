package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const configFile = "config/relay.ini"

// Config describes runtime options for the relay daemon. Values come from
// config/relay.ini when present; ANSWERLINE_* environment variables win
// over file values.
type Config struct {
	HTTPAddress    string
	Adapter        string // openai|loopback
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	Model          string
	RequestTimeout time.Duration
	AllowedOrigins []string
	LogFile        string
	LogLevel       string
	LedgerPath     string // file path or postgres:// DSN
	LedgerAsync    bool
	PromptsFile    string
}

// Load reads the relay configuration rooted at the given directory.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	values, err := parseINI(filepath.Join(root, configFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			values = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	cfg := Config{
		HTTPAddress:    normalizeAddress(firstNonEmpty(os.Getenv("ANSWERLINE_HTTP_ADDRESS"), os.Getenv("ANSWERLINE_PORT"), values["http_address"], values["port"], ":8080")),
		Adapter:        strings.ToLower(firstNonEmpty(os.Getenv("ANSWERLINE_ADAPTER"), values["adapter"], "openai")),
		OpenAIAPIKey:   firstNonEmpty(os.Getenv("ANSWERLINE_OPENAI_API_KEY"), os.Getenv("OPENAI_API_KEY"), values["openai_api_key"]),
		OpenAIBaseURL:  firstNonEmpty(os.Getenv("ANSWERLINE_OPENAI_BASE_URL"), values["openai_base_url"]),
		Model:          firstNonEmpty(os.Getenv("ANSWERLINE_MODEL"), values["model"], "gpt-4o-mini"),
		AllowedOrigins: parseCSV(firstNonEmpty(os.Getenv("ANSWERLINE_ALLOWED_ORIGINS"), values["allowed_origins"], "*")),
		LogFile:        firstNonEmpty(os.Getenv("ANSWERLINE_LOG_FILE"), values["log_file"]),
		LogLevel:       firstNonEmpty(os.Getenv("ANSWERLINE_LOG_LEVEL"), values["log_level"], "info"),
		LedgerPath:     firstNonEmpty(os.Getenv("ANSWERLINE_LEDGER_PATH"), values["ledger_path"], defaultLedgerPath()),
		LedgerAsync:    parseOptionalBool(firstNonEmpty(os.Getenv("ANSWERLINE_LEDGER_ASYNC"), values["ledger_async"]), true),
		PromptsFile:    firstNonEmpty(os.Getenv("ANSWERLINE_PROMPTS_FILE"), values["prompts_file"]),
	}

	timeoutRaw := firstNonEmpty(os.Getenv("ANSWERLINE_REQUEST_TIMEOUT"), values["request_timeout"], "120s")
	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutRaw))
	if err != nil {
		return Config{}, fmt.Errorf("invalid request_timeout %q: %w", timeoutRaw, err)
	}
	cfg.RequestTimeout = timeout

	switch cfg.Adapter {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return Config{}, errors.New("openai_api_key is required (set ANSWERLINE_OPENAI_API_KEY)")
		}
	case "loopback":
		// no credential needed
	default:
		return Config{}, fmt.Errorf("unknown adapter %q (expected openai or loopback)", cfg.Adapter)
	}

	return cfg, nil
}

// normalizeAddress accepts either a listen address (":8080", "0.0.0.0:80")
// or a bare port number.
func normalizeAddress(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ":8080"
	}
	if _, err := strconv.Atoi(v); err == nil {
		return ":" + v
	}
	return v
}

func defaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledger.db"
	}
	return filepath.Join(home, ".answerline", "ledger.db")
}

// parseINI reads simple key=value lines, ignoring blanks, comments, and
// section headers.
func parseINI(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
