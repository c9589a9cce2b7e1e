package server

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/memvault/internal/config"
	"github.com/dmitrijs2005/memvault/internal/store"
	"github.com/dmitrijs2005/memvault/internal/store/local"
	"github.com/dmitrijs2005/memvault/internal/store/mongo"
	"github.com/dmitrijs2005/memvault/internal/store/postgres"
)

// OpenStore builds the store selected by c. Document stores are connected,
// pinged and migrated before they are returned.
func OpenStore(ctx context.Context, c *config.Config) (store.Store, error) {
	names := c.Names()

	if c.LocalMode {
		return local.New(c.DataDir, names)
	}

	switch c.Driver {
	case config.DriverMongo:
		return mongo.Connect(ctx, c.DatabaseURI, c.DatabaseName, names)
	case config.DriverPostgres:
		return postgres.Open(ctx, c.DatabaseURI, names)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, c.Driver)
	}
}
