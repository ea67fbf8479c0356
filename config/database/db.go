package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"texsync/config"
	"texsync/pkg/logger"

	_ "github.com/lib/pq"
)

const (
	pingAttempts = 5
	pingDelay    = 2 * time.Second
)

// DSN renders the connection URL for lib/pq.
func DSN(c config.Database) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connect opens the receiver database and pings it, retrying a few times
// in case of temporary DNS or network blips.
func Connect(ctx context.Context, c config.Database) (*sql.DB, error) {
	db, err := sql.Open("postgres", DSN(c))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for i := 0; i < pingAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Sugar.Info("Successfully connected to the database")
			return db, nil
		}
		logger.Sugar.Infof("Database connection failed, retrying in %s... (%v)", pingDelay, err)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(pingDelay):
		}
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", pingAttempts, err)
}
