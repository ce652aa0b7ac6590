package database

import (
	"net/url"
	"strings"
	"testing"
)

func TestWithRuntimeParamsURL(t *testing.T) {
	got, err := withRuntimeParams("postgres://u:p@db:5432/account?sslmode=disable&application_name=custom",
		map[string]string{"application_name": "service-account-go", "TimeZone": "UTC", "empty": ""})
	if err != nil {
		t.Fatalf("withRuntimeParams: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	q := u.Query()
	if q.Get("application_name") != "custom" {
		t.Fatalf("existing param overridden: %s", got)
	}
	if q.Get("TimeZone") != "UTC" || q.Get("sslmode") != "disable" {
		t.Fatalf("unexpected query: %s", got)
	}
	if q.Has("empty") {
		t.Fatalf("empty param added: %s", got)
	}
}

func TestWithRuntimeParamsKeyValue(t *testing.T) {
	got, err := withRuntimeParams("host=db dbname=account", map[string]string{"TimeZone": "Asia/Shanghai"})
	if err != nil {
		t.Fatalf("withRuntimeParams: %v", err)
	}
	if !strings.HasSuffix(got, "TimeZone='Asia/Shanghai'") {
		t.Fatalf("dsn = %q", got)
	}
	if quoteLiteral(`it's`) != `'it\'s'` {
		t.Fatalf("quoteLiteral = %q", quoteLiteral(`it's`))
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATABASE_MAX_CONNS", "12")
	t.Setenv("DATABASE_APPLICATION_NAME", "")
	cfg := ConfigFromEnv()
	if !strings.HasPrefix(cfg.DSN, "postgres://") || cfg.MaxConns != 12 || cfg.ApplicationName != "service-account-go" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
