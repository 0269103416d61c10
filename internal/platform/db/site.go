package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	SiteIDKey contextKey = "site_id"
	DBConnKey contextKey = "db_conn"
	DBTxKey   contextKey = "db_tx"
)

var siteIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaForSite returns the Postgres schema holding a site's radiopharmacy
// records.
func SchemaForSite(siteID string) (string, error) {
	if !siteIDPattern.MatchString(siteID) {
		return "", fmt.Errorf("invalid site identifier: %q", siteID)
	}
	return "site_" + siteID, nil
}

// SiteMiddleware pins one pooled connection per request with its
// search_path set to the caller's site schema.
func SiteMiddleware(pool *pgxpool.Pool, defaultSite string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			siteID := extractSiteID(c, defaultSite)
			schema, err := SchemaForSite(siteID)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid site identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "site resolution failed")
			}

			ctx = context.WithValue(ctx, SiteIDKey, siteID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("site_id", siteID)

			return next(c)
		}
	}
}

func extractSiteID(c echo.Context, defaultSite string) string {
	// 1. JWT claim (set by auth middleware)
	if sid, ok := c.Get("jwt_site_id").(string); ok && sid != "" {
		return sid
	}

	// 2. X-Site-ID header
	if sid := c.Request().Header.Get("X-Site-ID"); sid != "" {
		return sid
	}

	// 3. Query parameter
	if sid := c.QueryParam("site_id"); sid != "" {
		return sid
	}

	return defaultSite
}

// ConnFromContext retrieves the site-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TxFromContext retrieves the open transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// SiteFromContext retrieves the site ID from context.
func SiteFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(SiteIDKey).(string)
	return sid
}

// WithSite returns a context carrying a site-scoped connection, for work
// done outside an HTTP request such as the alert monitor.
func WithSite(ctx context.Context, siteID string, conn *pgxpool.Conn) context.Context {
	ctx = context.WithValue(ctx, SiteIDKey, siteID)
	return context.WithValue(ctx, DBConnKey, conn)
}

// AcquireSite acquires a connection scoped to siteID's schema. The caller
// releases it.
func AcquireSite(ctx context.Context, pool *pgxpool.Pool, siteID string) (*pgxpool.Conn, error) {
	schema, err := SchemaForSite(siteID)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set search_path for %s: %w", schema, err)
	}
	return conn, nil
}

// CreateSiteSchema creates a site's schema and applies every pending
// migration to it. A nil migrator skips migrations.
func CreateSiteSchema(ctx context.Context, pool *pgxpool.Pool, siteID string, migrator *Migrator) error {
	schema, err := SchemaForSite(siteID)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
