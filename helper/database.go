package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// DatabaseConfiguration holds the Postgres connection settings.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
	// EmbeddingDimension is the width of the vector columns.
	EmbeddingDimension int
}

// NewDatabaseConfiguration reads the configuration from GRAPHER_DB_* environment
// variables. A .env file in the working directory is loaded first if present.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	_ = godotenv.Load()

	config := &DatabaseConfiguration{
		Host:     os.Getenv("GRAPHER_DB_HOST"),
		Port:     os.Getenv("GRAPHER_DB_PORT"),
		Database: os.Getenv("GRAPHER_DB_DATABASE"),
		Username: os.Getenv("GRAPHER_DB_USERNAME"),
		Password: os.Getenv("GRAPHER_DB_PASSWORD"),
		Schema:   os.Getenv("GRAPHER_DB_SCHEMA"),
		SSLMode:  os.Getenv("GRAPHER_DB_SSLMODE"),
	}
	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	config.EmbeddingDimension = 384
	if dim := os.Getenv("GRAPHER_DB_EMBEDDING_DIM"); dim != "" {
		parsed, err := strconv.Atoi(dim)
		if err != nil || parsed <= 0 {
			return nil, NewError("parse GRAPHER_DB_EMBEDDING_DIM", fmt.Errorf("invalid dimension %q", dim))
		}
		config.EmbeddingDimension = parsed
	}

	if config.Host == "" || config.Port == "" || config.Database == "" || config.Username == "" {
		return nil, NewError("database configuration", fmt.Errorf("GRAPHER_DB_HOST, GRAPHER_DB_PORT, GRAPHER_DB_DATABASE and GRAPHER_DB_USERNAME must be set"))
	}

	return config, nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfiguration) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Database bundles the connection pool with the logger of its owner.
type Database struct {
	Name               string
	Instance           *sql.DB
	Logger             *slog.Logger
	EmbeddingDimension int
}

// NewDatabase opens and pings a Postgres connection pool.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) (*Database, error) {
	if config == nil {
		return nil, NewError("database configuration", fmt.Errorf("configuration is nil"))
	}
	logger = OrDiscard(logger)

	instance, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, NewError("open database", err)
	}
	instance.SetMaxOpenConns(20)
	instance.SetMaxIdleConns(5)
	instance.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = instance.PingContext(ctx)
	if err != nil {
		_ = instance.Close()
		return nil, NewError("ping database", err)
	}

	dim := config.EmbeddingDimension
	if dim <= 0 {
		dim = 384
	}

	logger.Info("Connected to database", slog.String("name", name), slog.String("host", config.Host), slog.String("database", config.Database))

	return &Database{
		Name:               name,
		Instance:           instance,
		Logger:             logger,
		EmbeddingDimension: dim,
	}, nil
}

// NewTestDatabase connects with a discarding logger and panics on failure.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	db, err := NewDatabase("test", config, DiscardLogger())
	if err != nil {
		panic(err)
	}
	return db
}

// SetTestDatabaseConfigEnvs points the GRAPHER_DB_* variables at the test container.
func SetTestDatabaseConfigEnvs(t *testing.T, port string) {
	t.Setenv("GRAPHER_DB_HOST", "localhost")
	t.Setenv("GRAPHER_DB_PORT", port)
	t.Setenv("GRAPHER_DB_DATABASE", testDatabaseName)
	t.Setenv("GRAPHER_DB_USERNAME", testDatabaseUser)
	t.Setenv("GRAPHER_DB_PASSWORD", testDatabasePassword)
	t.Setenv("GRAPHER_DB_SCHEMA", "public")
	t.Setenv("GRAPHER_DB_SSLMODE", "disable")
	t.Setenv("GRAPHER_DB_EMBEDDING_DIM", "8")
}
