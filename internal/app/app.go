// Package app wires together configuration, the schedule client, and the
// local store into a single Deps struct that commands receive at runtime.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rookboom/rookboom/internal/booking"
	"github.com/rookboom/rookboom/internal/config"
	"github.com/rookboom/rookboom/internal/filter"
	"github.com/rookboom/rookboom/internal/hash"
	"github.com/rookboom/rookboom/internal/store"
	"github.com/rookboom/rookboom/internal/tz"
)

// Deps holds all runtime dependencies injected into command Run functions.
// Store is nil until RequireStore is called.
type Deps struct {
	Config *config.Config
	Client *booking.Client
	Store  *store.Store
}

// New builds a Deps from resolved config.
func New(cfg *config.Config) *Deps {
	client := booking.NewClient(
		cfg.BaseURL,
		cfg.Timeout,
		cfg.Rate,
		cfg.Debug,
	)
	return &Deps{
		Config: cfg,
		Client: client,
	}
}

// RequireStore opens the local database if it is not open yet.
func (d *Deps) RequireStore() error {
	if d.Store != nil {
		return nil
	}
	if d.Config.DBPath == "" {
		return errors.New("no database path: set --db, ROOKBOOM_DB_PATH or db_path in config.json")
	}
	s, err := store.Open(d.Config.DBPath)
	if err != nil {
		return err
	}
	d.Store = s
	return nil
}

// Close releases the store, if open.
func (d *Deps) Close() error {
	if d.Store == nil {
		return nil
	}
	err := d.Store.Close()
	d.Store = nil
	return err
}

// Engine builds the filter engine from the site catalogue.
func (d *Deps) Engine() (*filter.Engine, error) {
	return d.Config.Sites.Engine()
}

// Codec builds the fragment codec for the catalogue's domain and sites.
func (d *Deps) Codec(now func() time.Time) hash.Codec {
	return hash.Codec{
		Domain:  d.Config.Sites.Domain,
		Resolve: d.Config.Sites.Resolve,
		TZ:      tz.Adjuster{Now: now},
	}
}

// SiteLocation returns a fixed zone for a site's configured offset.
func (d *Deps) SiteLocation(siteID string) *time.Location {
	id := d.Config.Sites.Resolve(siteID)
	off := d.Config.Sites.Offset(id)
	return time.FixedZone(fmt.Sprintf("%s%+03d:%02d", id, off/60, abs(off%60)), off*60)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
