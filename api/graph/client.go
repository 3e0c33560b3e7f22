// Package graph wraps the Neo4j driver behind a small interface so the tool
// layer and tests can substitute fakes.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const DefaultDatabase = "neo4j"

// Client is a Neo4j database connection.
type Client interface {
	Session(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// Session executes Cypher queries.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Result is the outcome of one Cypher query.
type Result interface {
	Collect(ctx context.Context) ([]*neo4j.Record, error)
	Single(ctx context.Context) (*neo4j.Record, error)
}

type client struct {
	driver   neo4j.DriverWithContext
	database string
	log      *slog.Logger
}

type session struct {
	sess neo4j.SessionWithContext
}

type result struct {
	res neo4j.ResultWithContext
}

// NewClient connects to Neo4j and verifies connectivity.
func NewClient(ctx context.Context, log *slog.Logger, uri, database, username, password string) (Client, error) {
	auth := neo4j.BasicAuth(username, password, "")
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	log.Info("Neo4j client initialized", "uri", uri, "database", database)

	return &client{driver: driver, database: database, log: log}, nil
}

func (c *client) Session(ctx context.Context) (Session, error) {
	sess := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
	})
	return &session{sess: sess}, nil
}

func (c *client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (s *session) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return &result{res: res}, nil
}

func (s *session) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

func (r *result) Collect(ctx context.Context) ([]*neo4j.Record, error) {
	return r.res.Collect(ctx)
}

func (r *result) Single(ctx context.Context) (*neo4j.Record, error) {
	return r.res.Single(ctx)
}
