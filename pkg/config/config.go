// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingMongoURI is returned by Validate when no Mongo connection string
// is configured.
var ErrMissingMongoURI = errors.New("MONGO_URI is required")

// Config holds every setting the updater and its commands read.
type Config struct {
	MongoURI        string
	MongoDB         string
	MongoCollection string

	PageSize         int
	ArticleWorkers   int
	SynthesisWorkers int
	SynthesisTimeout time.Duration
	SlideMaxChars    int

	WikiBaseURL string
	TTSURL      string
	TTSVoice    string

	SupabaseURL string
	SupabaseKey string
	AudioBucket string

	PostgresDSN            string
	PostgresMaxConns       int
	PostgresConnectTimeout time.Duration

	FillMedia      bool
	CheckRevisions bool
	// CleanupAudio deletes bucket audio once no article references it.
	CleanupAudio bool

	AdminAddr string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		MongoDB:          "decks",
		MongoCollection:  "articles",
		PageSize:         4,
		ArticleWorkers:   4,
		SynthesisWorkers: 5,
		SynthesisTimeout: 30 * time.Second,
		SlideMaxChars:    300,
		WikiBaseURL:      "https://en.wikipedia.org",
		TTSVoice:         "Joanna",
		AudioBucket:      "audio",
		FillMedia:        true,

		PostgresMaxConns:       2,
		PostgresConnectTimeout: 5 * time.Second,
		AdminAddr:        ":4000",
	}
}

// Load reads the given .env files (".env" when none are named) into the
// process environment without overriding variables already set, then builds
// a Config from the environment. A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		log.Printf("Config: no .env file loaded: %v", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, starting from Default.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()
	p := envParser{getenv: getenv}

	p.str("MONGO_URI", &cfg.MongoURI)
	p.str("MONGO_DB", &cfg.MongoDB)
	p.str("MONGO_COLLECTION", &cfg.MongoCollection)
	p.integer("PAGE_SIZE", &cfg.PageSize)
	p.integer("ARTICLE_WORKERS", &cfg.ArticleWorkers)
	p.integer("SYNTHESIS_WORKERS", &cfg.SynthesisWorkers)
	p.duration("SYNTHESIS_TIMEOUT", &cfg.SynthesisTimeout)
	p.integer("SLIDE_MAX_CHARS", &cfg.SlideMaxChars)
	p.str("WIKI_BASE_URL", &cfg.WikiBaseURL)
	p.str("TTS_URL", &cfg.TTSURL)
	p.str("TTS_VOICE", &cfg.TTSVoice)
	p.str("SUPABASE_URL", &cfg.SupabaseURL)
	p.str("SUPABASE_KEY", &cfg.SupabaseKey)
	p.str("AUDIO_BUCKET", &cfg.AudioBucket)
	p.str("POSTGRES_DSN", &cfg.PostgresDSN)
	p.integer("POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)
	p.duration("POSTGRES_CONNECT_TIMEOUT", &cfg.PostgresConnectTimeout)
	p.boolean("FILL_MEDIA", &cfg.FillMedia)
	p.boolean("CHECK_REVISIONS", &cfg.CheckRevisions)
	p.boolean("CLEANUP_AUDIO", &cfg.CleanupAudio)
	p.str("ADMIN_ADDR", &cfg.AdminAddr)

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return ErrMissingMongoURI
	}
	for name, v := range map[string]int{
		"PAGE_SIZE":         c.PageSize,
		"ARTICLE_WORKERS":   c.ArticleWorkers,
		"SYNTHESIS_WORKERS": c.SynthesisWorkers,
		"SLIDE_MAX_CHARS":   c.SlideMaxChars,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.SynthesisTimeout <= 0 {
		return fmt.Errorf("SYNTHESIS_TIMEOUT must be positive, got %s", c.SynthesisTimeout)
	}
	if c.PostgresDSN != "" {
		if c.PostgresMaxConns <= 0 {
			return fmt.Errorf("POSTGRES_MAX_CONNS must be positive, got %d", c.PostgresMaxConns)
		}
		if c.PostgresConnectTimeout <= 0 {
			return fmt.Errorf("POSTGRES_CONNECT_TIMEOUT must be positive, got %s", c.PostgresConnectTimeout)
		}
	}
	return nil
}

// HasAudioBucket reports whether Supabase Storage is configured.
func (c *Config) HasAudioBucket() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}

func (p *envParser) boolean(key string, dst *bool) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}
