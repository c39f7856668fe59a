package main

import (
	"encoding/base64"
	"os"
	"strconv"
	"time"

	"github.com/orbitalci/orbital/pkg/security"
)

// serveConfig is environment-driven the way cmd/warren/main.go binds
// flags via cobra/pflag, plus the env vars spec.md §6 names. Every
// variable falls back to a sane default so `orbital serve` runs with
// zero configuration against an embedded containerd and bbolt store.
type serveConfig struct {
	APIAddr    string
	DataDir    string
	SocketPath string

	MaxConcurrentWorkflows int
	DefaultStepTimeout     time.Duration
	ValidationTimeout      time.Duration
	MaxIterations          int
	SandboxWorkspaceRoot   string
	EventBusQueueCapacity  int

	AgentServiceURL   string
	AgentServiceToken string
	CodeHostURL       string
	CodeHostToken     string
}

func loadServeConfig() serveConfig {
	return serveConfig{
		APIAddr:    envOr("ORBITAL_API_ADDR", "0.0.0.0:8080"),
		DataDir:    envOr("ORBITAL_DATA_DIR", "./data"),
		SocketPath: envOr("ORBITAL_CONTAINERD_SOCKET", ""),

		MaxConcurrentWorkflows: envIntOr("MAX_CONCURRENT_WORKFLOWS", 50),
		DefaultStepTimeout:     time.Duration(envIntOr("DEFAULT_STEP_TIMEOUT_SECONDS", 300)) * time.Second,
		ValidationTimeout:      time.Duration(envIntOr("VALIDATION_TIMEOUT_MINUTES", 30)) * time.Minute,
		MaxIterations:          envIntOr("MAX_ITERATIONS", 10),
		SandboxWorkspaceRoot:   envOr("SANDBOX_WORKSPACE_ROOT", "/var/lib/orbital/workspaces"),
		EventBusQueueCapacity:  envIntOr("EVENT_BUS_QUEUE_CAPACITY", 64),

		AgentServiceURL:   envOr("AGENT_SERVICE_URL", "http://localhost:9001"),
		AgentServiceToken: decryptedEnv("AGENT_SERVICE_TOKEN"),
		CodeHostURL:       envOr("CODE_HOST_URL", "http://localhost:9002"),
		CodeHostToken:     decryptedEnv("CODE_HOST_TOKEN"),
	}
}

// decryptedEnv reads key and, if ORBITAL_CREDENTIAL_KEY is set, treats its
// value as base64-encoded AES-256-GCM ciphertext (see
// pkg/security.CredentialStore) and returns the decrypted secret. This
// lets a deployment keep tokens encrypted at rest in its secrets store
// rather than injecting them into the process environment as plaintext.
// With no ORBITAL_CREDENTIAL_KEY set, key's raw value is used as-is.
func decryptedEnv(key string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return ""
	}
	password := os.Getenv("ORBITAL_CREDENTIAL_KEY")
	if password == "" {
		return raw
	}
	store, err := security.NewCredentialStoreFromPassword(password)
	if err != nil {
		return raw
	}
	ciphertext, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}
	plaintext, err := store.Decrypt(ciphertext)
	if err != nil {
		return raw
	}
	return string(plaintext)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
