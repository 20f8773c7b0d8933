package neo4jdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/utils"
)

// Config carries the driver settings. An empty URI means the graph mirror
// is not deployed in this environment.
type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    int
}

func ConfigFromEnv(log *logger.Logger) Config {
	timeoutSec := utils.GetEnvAsInt("NEO4J_TIMEOUT_SECONDS", 10, log)
	return Config{
		URI:            strings.TrimSpace(utils.GetEnv("NEO4J_URI", "", log)),
		Username:       strings.TrimSpace(utils.GetEnv("NEO4J_USER", "neo4j", log)),
		Password:       utils.GetEnv("NEO4J_PASSWORD", "", nil),
		Database:       strings.TrimSpace(utils.GetEnv("NEO4J_DATABASE", "", log)),
		ConnectTimeout: time.Duration(timeoutSec) * time.Second,
		MaxPoolSize:    utils.GetEnvAsInt("NEO4J_MAX_POOL_SIZE", 50, log),
	}
}

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	log      *logger.Logger
}

// New dials Neo4j and verifies connectivity before handing the client out,
// so a misconfigured mirror fails at startup rather than on first sync.
func New(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4jdb: uri required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	log.Info("neo4j client ready",
		"uri", cfg.URI,
		"database", cfg.Database,
		"max_pool_size", cfg.MaxPoolSize,
	)
	return &Client{
		Driver:   driver,
		Database: cfg.Database,
		log:      log.With("client", "Neo4jDB"),
	}, nil
}

// NewFromEnv returns (nil, nil) when NEO4J_URI is unset; callers treat a
// nil client as "graph service unavailable" and fall back.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	cfg := ConfigFromEnv(log)
	if cfg.URI == "" {
		return nil, nil
	}
	return New(log, cfg)
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
