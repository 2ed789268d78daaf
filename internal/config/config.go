package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Default source locations.
const (
	DefaultFeedURLTemplate = "https://www.ecdc.europa.eu/sites/default/files/documents/COVID-19-geographic-disbtribution-worldwide-{date}.xlsx"
	DefaultEntityCodesURL  = "https://en.wikipedia.org/wiki/List_of_ISO_3166_country_codes"
	DefaultRegionsURL      = "http://statisticstimes.com/geography/countries-by-continents.php"
	DefaultUSStatesURL     = "https://raw.githubusercontent.com/nytimes/covid-19-data/master/us-states.csv"
	DefaultUSStateCodesURL = "https://www.nrcs.usda.gov/wps/portal/nrcs/detail/?cid=nrcs143_013696"
	DefaultUSCountiesURL   = "https://raw.githubusercontent.com/nytimes/covid-19-data/master/us-counties.csv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Source locations.
	FeedURLTemplate       string
	EntityCodesURL        string
	EntityCodesTableIndex int
	RegionsURL            string
	RegionsTableIndex     int
	FetchTimeout          time.Duration

	// Retry policy for the primary feed.
	MaxConsecutiveDates int
	WalkBack            bool
	ReferenceDate       time.Time // zero means today

	RefreshInterval time.Duration // zero disables the refresh loop

	// Panel cache.
	CacheEnabled bool
	CacheDir     string // empty selects the in-memory cache
	CacheTTL     time.Duration

	// Optional Kafka sink for assembled rows.
	KafkaEnabled   bool
	KafkaBrokers   []string
	KafkaSinkTopic string

	// US state- and county-level variants.
	USEnabled       bool
	USStatesURL     string
	USStateCodesURL string
	USCountiesURL   string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("CACHE_TTL", "24h")
	if err != nil {
		return nil, err
	}
	refresh, err := time.ParseDuration(sharedcfg.EnvOrDefault("REFRESH_INTERVAL", "6h"))
	if err != nil || refresh < 0 {
		return nil, errors.New("invalid REFRESH_INTERVAL")
	}

	maxDates, err := parsePositiveInt("MAX_CONSECUTIVE_DATES", 5)
	if err != nil {
		return nil, err
	}
	codesIndex, err := parseNonNegativeInt("ENTITY_CODES_TABLE_INDEX", 0)
	if err != nil {
		return nil, err
	}
	regionsIndex, err := parseNonNegativeInt("REGIONS_TABLE_INDEX", 2)
	if err != nil {
		return nil, err
	}

	var refDate time.Time
	if s := os.Getenv("REFERENCE_DATE"); s != "" {
		refDate, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("invalid REFERENCE_DATE: %w", err)
		}
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		FeedURLTemplate:       sharedcfg.EnvOrDefault("FEED_URL_TEMPLATE", DefaultFeedURLTemplate),
		EntityCodesURL:        sharedcfg.EnvOrDefault("ENTITY_CODES_URL", DefaultEntityCodesURL),
		EntityCodesTableIndex: codesIndex,
		RegionsURL:            sharedcfg.EnvOrDefault("REGIONS_URL", DefaultRegionsURL),
		RegionsTableIndex:     regionsIndex,
		FetchTimeout:          fetchTimeout,

		MaxConsecutiveDates: maxDates,
		WalkBack:            sharedcfg.EnvOrDefault("WALK_BACK", "true") == "true",
		ReferenceDate:       refDate,
		RefreshInterval:     refresh,

		CacheEnabled: sharedcfg.EnvOrDefault("CACHE_ENABLED", "true") == "true",
		CacheDir:     os.Getenv("CACHE_DIR"),
		CacheTTL:     cacheTTL,

		KafkaEnabled:   os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:   sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "epi-panel-rows"),

		USEnabled:       os.Getenv("US_ENABLED") == "true",
		USStatesURL:     sharedcfg.EnvOrDefault("US_STATES_URL", DefaultUSStatesURL),
		USStateCodesURL: sharedcfg.EnvOrDefault("US_STATE_CODES_URL", DefaultUSStateCodesURL),
		USCountiesURL:   sharedcfg.EnvOrDefault("US_COUNTIES_URL", DefaultUSCountiesURL),
	}

	if cfg.FeedURLTemplate == "" {
		return nil, errors.New("FEED_URL_TEMPLATE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_SINK_TOPIC is empty")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseNonNegativeInt(key string, def int) (int, error) {
	n, err := parseInt(key, def)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
