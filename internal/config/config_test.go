package config

import (
	"strings"
	"testing"
	"time"
)

func pgEnv(extra map[string]string) LookupFunc {
	m := map[string]string{"DATABASE_URL": "postgres://localhost/test"}
	for k, v := range extra {
		m[k] = v
	}
	return MapLookup(m)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(pgEnv(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, DriverPostgres)
	}
	if !cfg.Database.AutoMigrate {
		t.Error("Database.AutoMigrate should default to true")
	}
	if cfg.Import.MaxConcurrent != 4 {
		t.Errorf("Import.MaxConcurrent = %d, want %d", cfg.Import.MaxConcurrent, 4)
	}
	if cfg.Import.MaxFileSize != 20<<20 {
		t.Errorf("Import.MaxFileSize = %d, want %d", cfg.Import.MaxFileSize, 20<<20)
	}
	if cfg.Import.MaxRows != 10000 {
		t.Errorf("Import.MaxRows = %d, want %d", cfg.Import.MaxRows, 10000)
	}
	if cfg.Allocation.MaxRetries != 3 {
		t.Errorf("Allocation.MaxRetries = %d, want %d", cfg.Allocation.MaxRetries, 3)
	}
	if cfg.Allocation.RetryBackoff != 20*time.Millisecond {
		t.Errorf("Allocation.RetryBackoff = %v, want %v", cfg.Allocation.RetryBackoff, 20*time.Millisecond)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	cfg, err := LoadFrom(pgEnv(map[string]string{
		"SERVER_PORT":              "9090",
		"IMPORT_MAX_CONCURRENT":    "10",
		"ALLOCATION_RETRY_BACKOFF": "5ms",
		"LOG_LEVEL":                "debug",
		"API_KEYS":                 " key-a, ,key-b ",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}
	if cfg.Import.MaxConcurrent != 10 {
		t.Errorf("Import.MaxConcurrent = %d, want %d", cfg.Import.MaxConcurrent, 10)
	}
	if cfg.Allocation.RetryBackoff != 5*time.Millisecond {
		t.Errorf("Allocation.RetryBackoff = %v, want 5ms", cfg.Allocation.RetryBackoff)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if len(cfg.Security.APIKeys) != 2 || cfg.Security.APIKeys[0] != "key-a" || cfg.Security.APIKeys[1] != "key-b" {
		t.Errorf("Security.APIKeys = %v, want [key-a key-b]", cfg.Security.APIKeys)
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	cfg, err := LoadFrom(MapLookup(map[string]string{
		"DB_URL": "postgres://localhost/alttest",
		"PORT":   "3000",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/alttest" {
		t.Errorf("Database.URL = %q, want %q", cfg.Database.URL, "postgres://localhost/alttest")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
}

func TestLoad_ProcessEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", ":memory:")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.SQLitePath != ":memory:" {
		t.Errorf("Database = %+v, want sqlite :memory:", cfg.Database)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"postgres without url", map[string]string{}, "DATABASE_URL is required"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"bad integer", map[string]string{"DATABASE_URL": "x", "SERVER_PORT": "eighty"}, "invalid integer"},
		{"bad duration", map[string]string{"DATABASE_URL": "x", "IMPORT_TIMEOUT": "soon"}, "invalid duration"},
		{"bad bool", map[string]string{"DATABASE_URL": "x", "REQUIRE_API_KEY": "maybe"}, "invalid boolean"},
		{"port range", map[string]string{"DATABASE_URL": "x", "SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"pool sizes", map[string]string{"DATABASE_URL": "x", "DB_MAX_CONNS": "2", "DB_MIN_CONNS": "5"}, "DB_MAX_CONNS (2)"},
		{"api key required", map[string]string{"DATABASE_URL": "x", "REQUIRE_API_KEY": "true"}, "API_KEYS is empty"},
		{"log level", map[string]string{"DATABASE_URL": "x", "LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"log format", map[string]string{"DATABASE_URL": "x", "LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"import rows", map[string]string{"DATABASE_URL": "x", "IMPORT_MAX_ROWS": "0"}, "IMPORT_MAX_ROWS"},
		{"rate limit", map[string]string{"DATABASE_URL": "x", "RATE_LIMIT_REQUESTS_PER_MINUTE": "0"}, "RATE_LIMIT"},
		{"metrics path", map[string]string{"DATABASE_URL": "x", "METRICS_PATH": "metrics"}, "METRICS_PATH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(MapLookup(tt.env))
			if err == nil {
				t.Fatal("LoadFrom() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg, err := LoadFrom(pgEnv(nil))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	cfg.Server.Port = 0
	cfg.Import.Timeout = 0
	cfg.Logging.Format = "yaml"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"SERVER_PORT", "IMPORT_TIMEOUT", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestServerConfig_Addr(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"0.0.0.0", 8080, "0.0.0.0:8080"},
		{"", 9000, ":9000"},
		{"::1", 80, "[::1]:80"},
	}
	for _, tt := range tests {
		c := ServerConfig{Host: tt.host, Port: tt.port}
		if got := c.Addr(); got != tt.want {
			t.Errorf("Addr() = %q, want %q", got, tt.want)
		}
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg, err := LoadFrom(pgEnv(map[string]string{"API_KEYS": "super-secret"}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	s := cfg.String()
	if strings.Contains(s, "postgres://") || strings.Contains(s, "super-secret") {
		t.Errorf("String() leaks secrets: %s", s)
	}
	if !strings.Contains(s, "[MASKED]") {
		t.Errorf("String() = %s, want masked URL", s)
	}
}
