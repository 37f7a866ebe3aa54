package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Relations whose absence disables an optional resolution strategy
const (
	relationSubdomains = "public.tenant_subdomains"
	relationAPIKeys    = "public.tenant_api_keys"
)

// ProbeCapabilities checks once, at startup, which optional relations exist.
// The resolver consults the result on the hot path instead of inspecting
// error codes per request.
func ProbeCapabilities(ctx context.Context, db *sql.DB, timeout time.Duration) (Capabilities, error) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var caps Capabilities
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ok, err := relationExists(gctx, db, relationSubdomains)
		if err != nil {
			return err
		}
		caps.Subdomains = ok
		return nil
	})
	g.Go(func() error {
		ok, err := relationExists(gctx, db, relationAPIKeys)
		if err != nil {
			return err
		}
		caps.APIKeys = ok
		return nil
	})

	if err := g.Wait(); err != nil {
		return Capabilities{}, fmt.Errorf("failed to probe store capabilities: %w", err)
	}
	return caps, nil
}

func relationExists(ctx context.Context, db *sql.DB, relation string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, relation).Scan(&exists)
	if err != nil {
		return false, unavailable("probe "+relation, err)
	}
	return exists, nil
}
