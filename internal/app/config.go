package app

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/openhall/hiringhall/internal/rules"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
	} `toml:"server"`

	Auth struct {
		RedisURL         string `toml:"redis_url"`
		TokenHeader      string `toml:"token_header"`
		TokenKeyTemplate string `toml:"token_key_template"`
	} `toml:"auth"`

	API struct {
		MemberIDHeader  string         `toml:"member_id_header"`
		ActorHeader     string         `toml:"actor_header"`
		RequiredHeaders []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Display struct {
		TimestampFormat string `toml:"timestamp_format"`
	} `toml:"display"`

	// Referral holds the procedural rule constants. Anything left at zero
	// falls back to the rule-book defaults in internal/rules.
	Referral struct {
		ResignDays             int    `toml:"resign_days"`
		BlackoutDays           int    `toml:"blackout_days"`
		MaxCheckMarks          int    `toml:"max_check_marks"`
		ShortCallMaxDays       int    `toml:"short_call_max_days"`
		ShortCallCap           int    `toml:"short_call_cap"`
		ShortCallCapExemptDays int    `toml:"short_call_cap_exempt_days"`
		BidSuspensionMonths    int    `toml:"bid_suspension_months"`
		RejectionWindowMonths  int    `toml:"rejection_window_months"`
		RequestExpiryDays      int    `toml:"request_expiry_days"`
		BidWindowOpen          string `toml:"bid_window_open"`
		BidWindowClose         string `toml:"bid_window_close"`
		DailyCutoff            string `toml:"daily_cutoff"`
	} `toml:"referral"`

	Sweep struct {
		Timezone        string `toml:"timezone"`
		MorningSchedule string `toml:"morning_schedule"`
		ExpirySchedule  string `toml:"expiry_schedule"`
		RequestSchedule string `toml:"request_schedule"`
		MetricsSchedule string `toml:"metrics_schedule"`
	} `toml:"sweep"`
}

// RuleParams maps the [referral] section onto the policy constructor input.
func (c *Config) RuleParams() rules.Params {
	return rules.Params{
		ResignDays:             c.Referral.ResignDays,
		BlackoutDays:           c.Referral.BlackoutDays,
		MaxCheckMarks:          c.Referral.MaxCheckMarks,
		ShortCallMaxDays:       c.Referral.ShortCallMaxDays,
		ShortCallCap:           c.Referral.ShortCallCap,
		ShortCallCapExemptDays: c.Referral.ShortCallCapExemptDays,
		BidSuspensionMonths:    c.Referral.BidSuspensionMonths,
		RejectionWindowMonths:  c.Referral.RejectionWindowMonths,
		RequestExpiryDays:      c.Referral.RequestExpiryDays,
		BidWindowOpen:          c.Referral.BidWindowOpen,
		BidWindowClose:         c.Referral.BidWindowClose,
		DailyCutoff:            c.Referral.DailyCutoff,
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}
	if config.Database.MigrationsDir == "" {
		config.Database.MigrationsDir = "./migrations"
	}

	logger.Debug.Printf("Loaded referral config: %+v", config.Referral)

	return &config, nil
}
