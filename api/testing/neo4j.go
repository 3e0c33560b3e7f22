package apitesting

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"

	"github.com/fengtai/docgraph/api/config"
	"github.com/fengtai/docgraph/api/graph"
)

// Neo4jDBConfig holds the Neo4j test container configuration.
type Neo4jDBConfig struct {
	Username       string
	Password       string
	ContainerImage string
}

// Neo4jDB represents a Neo4j test container.
type Neo4jDB struct {
	log       *slog.Logger
	cfg       *Neo4jDBConfig
	boltURL   string
	container *tcneo4j.Neo4jContainer
}

// BoltURL returns the Bolt protocol URL for the container.
func (db *Neo4jDB) BoltURL() string {
	return db.boltURL
}

// Close terminates the Neo4j container.
func (db *Neo4jDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate Neo4j container", "error", err)
	}
}

func (cfg *Neo4jDBConfig) Validate() error {
	if cfg.Username == "" {
		cfg.Username = "neo4j"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "neo4j:5-community"
	}
	return nil
}

// NewNeo4jDB creates a new Neo4j testcontainer.
func NewNeo4jDB(ctx context.Context, log *slog.Logger, cfg *Neo4jDBConfig) (*Neo4jDB, error) {
	if cfg == nil {
		cfg = &Neo4jDBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate Neo4j DB config: %w", err)
	}

	var container *tcneo4j.Neo4jContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcneo4j.Run(ctx,
			cfg.ContainerImage,
			tcneo4j.WithAdminPassword(cfg.Password),
			tcneo4j.WithoutAuthentication(),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("failed to start Neo4j container after retries: %w", lastErr)
		}
		break
	}
	if container == nil {
		return nil, fmt.Errorf("failed to start Neo4j container after retries: %w", lastErr)
	}

	boltURL, err := container.BoltUrl(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get Neo4j bolt URL: %w", err)
	}

	return &Neo4jDB{log: log, cfg: cfg, boltURL: boltURL, container: container}, nil
}

// SetupTestNeo4j creates a graph client for the container and swaps
// config.GraphClient for this test's lifetime.
func SetupTestNeo4j(t *testing.T, db *Neo4jDB) graph.Client {
	ctx := t.Context()

	client, err := graph.NewClient(ctx, slog.Default(), db.boltURL, graph.DefaultDatabase, db.cfg.Username, db.cfg.Password)
	require.NoError(t, err, "failed to create graph client")

	oldClient := config.GraphClient
	config.GraphClient = client

	t.Cleanup(func() {
		// Clear data written by this test.
		if sess, serr := client.Session(context.Background()); serr == nil {
			if res, rerr := sess.Run(context.Background(), "MATCH (n) DETACH DELETE n", nil); rerr == nil {
				_, _ = res.Collect(context.Background())
			}
			_ = sess.Close(context.Background())
		}
		_ = client.Close(context.Background())
		config.GraphClient = oldClient
	})

	return client
}
