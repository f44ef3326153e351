package config

import "testing"

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.ApiKey = "oracle-key"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.AccessKey = "ak"
	cfg.S3.SecretKey = "sk"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Notify.DiscordWebhookURL = "https://discord/webhook"

	out := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"oracle api key":    out.Oracle.ApiKey,
		"postgres dsn":      out.Postgres.DSN,
		"postgres password": out.Postgres.Password,
		"redis password":    out.Redis.Password,
		"s3 access key":     out.S3.AccessKey,
		"s3 secret key":     out.S3.SecretKey,
		"telegram token":    out.Notify.TelegramToken,
		"discord webhook":   out.Notify.DiscordWebhookURL,
	} {
		if got != redacted {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}

	// The original must be untouched.
	if cfg.Oracle.ApiKey != "oracle-key" {
		t.Error("redaction mutated the source config")
	}
	// Non-secret fields pass through.
	if out.Redis.Addr != cfg.Redis.Addr {
		t.Errorf("redis addr changed: %q", out.Redis.Addr)
	}
}

func TestRedactedConfigLeavesEmptySecretsEmpty(t *testing.T) {
	cfg := Defaults()
	out := RedactedConfig(&cfg)
	if out.Oracle.ApiKey != "" || out.Redis.Password != "" {
		t.Error("empty secrets should stay empty, not become placeholders")
	}
}
