package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ErrMissingSetting is wrapped by Load when a required variable is unset.
var ErrMissingSetting = errors.New("missing required setting")

// CronParser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @daily.
var CronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Config struct {
	App      AppConfig      `mapstructure:",squash"`
	S3       S3Config       `mapstructure:",squash"`
	Backup   BackupConfig   `mapstructure:",squash"`
	Telegram TelegramConfig `mapstructure:",squash"`
	Timeouts TimeoutConfig  `mapstructure:",squash"`
	Dumpers  DumperConfig   `mapstructure:",squash"`
}

type AppConfig struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	TempDir     string `mapstructure:"temp_dir"`
}

type S3Config struct {
	AccessKey      string `mapstructure:"aws_access_key_id"`
	SecretKey      string `mapstructure:"aws_secret_access_key"`
	Region         string `mapstructure:"aws_s3_region"`
	Endpoint       string `mapstructure:"aws_s3_endpoint"`
	Bucket         string `mapstructure:"aws_s3_bucket"`
	ForcePathStyle bool   `mapstructure:"aws_s3_force_path_style"`
	Prefix         string `mapstructure:"s3_prefix"`
}

type BackupConfig struct {
	Databases            []string `mapstructure:"backup_database_urls"`
	RunOnStartup         bool     `mapstructure:"run_on_startup"`
	Cron                 string   `mapstructure:"cron"`
	AbortOnUnknownEngine bool     `mapstructure:"abort_on_unknown_engine"`
	RetentionDays        int      `mapstructure:"retention_days"`
}

type TelegramConfig struct {
	BotToken    string   `mapstructure:"telegram_bot_token"`
	ChatIDs     []string `mapstructure:"telegram_chat_ids"`
	APIEndpoint string   `mapstructure:"telegram_api_endpoint"`
}

type TimeoutConfig struct {
	Dump    time.Duration `mapstructure:"dump_timeout"`
	Archive time.Duration `mapstructure:"archive_timeout"`
	Upload  time.Duration `mapstructure:"upload_timeout"`
	Notify  time.Duration `mapstructure:"notify_timeout"`
}

type DumperConfig struct {
	PgDumpBin    string `mapstructure:"pg_dump_bin"`
	MongodumpBin string `mapstructure:"mongodump_bin"`
	MysqldumpBin string `mapstructure:"mysqldump_bin"`
}

var requiredKeys = []string{
	"aws_access_key_id",
	"aws_secret_access_key",
	"aws_s3_region",
	"aws_s3_endpoint",
	"aws_s3_bucket",
}

var optionalKeys = []string{
	"aws_s3_force_path_style",
	"s3_prefix",
	"backup_database_urls",
	"run_on_startup",
	"cron",
	"abort_on_unknown_engine",
	"retention_days",
	"telegram_bot_token",
	"telegram_chat_ids",
	"telegram_api_endpoint",
	"dump_timeout",
	"archive_timeout",
	"upload_timeout",
	"notify_timeout",
	"log_level",
	"log_file",
	"metrics_addr",
	"temp_dir",
	"pg_dump_bin",
	"mongodump_bin",
	"mysqldump_bin",
}

// Load reads the configuration from the environment. envFile, when set, is
// a dotenv file whose values the real environment overrides.
func Load(envFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("telegram_api_endpoint", "https://api.telegram.org/bot%s/%s")
	v.SetDefault("dump_timeout", 2*time.Hour)
	v.SetDefault("archive_timeout", 30*time.Minute)
	v.SetDefault("upload_timeout", 30*time.Minute)
	v.SetDefault("notify_timeout", 10*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("pg_dump_bin", "pg_dump")
	v.SetDefault("mongodump_bin", "mongodump")
	v.SetDefault("mysqldump_bin", "mysqldump")

	for _, key := range append(requiredKeys, optionalKeys...) {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", strings.ToUpper(key), err)
		}
	}

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Backup.Databases = splitList(cfg.Backup.Databases)
	cfg.Telegram.ChatIDs = splitList(cfg.Telegram.ChatIDs)
	cfg.Backup.Cron = strings.TrimSpace(cfg.Backup.Cron)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	required := []struct {
		env   string
		value string
	}{
		{"AWS_ACCESS_KEY_ID", c.S3.AccessKey},
		{"AWS_SECRET_ACCESS_KEY", c.S3.SecretKey},
		{"AWS_S3_REGION", c.S3.Region},
		{"AWS_S3_ENDPOINT", c.S3.Endpoint},
		{"AWS_S3_BUCKET", c.S3.Bucket},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingSetting, strings.Join(missing, ", "))
	}

	if c.Backup.Cron != "" {
		if _, err := CronParser.Parse(c.Backup.Cron); err != nil {
			return fmt.Errorf("CRON %q: %w", c.Backup.Cron, err)
		}
	}
	if c.Timeouts.Dump <= 0 || c.Timeouts.Archive <= 0 || c.Timeouts.Upload <= 0 || c.Timeouts.Notify <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Backup.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must be >= 0")
	}

	return nil
}

// RequireSchedule fails when the daemon would neither run at startup nor
// on a schedule. One-shot runs skip it.
func (c *Config) RequireSchedule() error {
	if c.Backup.Cron == "" && !c.Backup.RunOnStartup {
		return fmt.Errorf("nothing to do: set RUN_ON_STARTUP=true and/or CRON")
	}
	return nil
}

// NotificationsEnabled reports whether a bot token is configured.
func (c *Config) NotificationsEnabled() bool {
	return c.Telegram.BotToken != ""
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
