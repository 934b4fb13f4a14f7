package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/pickme-go/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

type Config struct {
	// URI is a mongodb:// connection string, its path selects the default database
	URI        string
	Database   string
	Collection string
	Upsert     bool
	Many       bool
	// FilterField is the tuple field matched against the FilterAs document attribute
	FilterField    string
	FilterAs       string
	ConnectTimeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		URI:            `mongodb://localhost:27017`,
		Upsert:         true,
		FilterField:    `return-info`,
		FilterAs:       `_id`,
		ConnectTimeout: 10 * time.Second,
	}
}

func (c *Config) Validate() error {
	cs, err := connstring.Parse(c.URI)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`invalid mongo uri [%s]`, c.URI))
	}

	if c.Database == `` {
		c.Database = cs.Database
	}

	if c.Database == `` {
		return errors.New(`mongo database cannot be empty`)
	}

	if c.Collection == `` {
		return errors.New(`mongo collection cannot be empty`)
	}

	if c.FilterField == `` || c.FilterAs == `` {
		return errors.New(`mongo filter field cannot be empty`)
	}

	return nil
}

// Connect opens a client and returns the configured collection. The client is
// disconnected by the returned close func.
func Connect(ctx context.Context, c *Config) (*mongo.Collection, func(ctx context.Context) error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, nil, errors.WithPrevious(err, `mongo connect failed`)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, errors.WithPrevious(err, `mongo ping failed`)
	}

	return client.Database(c.Database).Collection(c.Collection), client.Disconnect, nil
}

// NewSink connects and builds an UpdateSink from c.
func NewSink(ctx context.Context, c *Config, opts ...Option) (*UpdateSink, func(ctx context.Context) error, error) {
	coll, closer, err := Connect(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	opts = append([]Option{WithUpsert(c.Upsert), WithMany(c.Many)}, opts...)
	sink, err := NewUpdateSink(coll, FilterByField(c.FilterField, c.FilterAs), SetFields(), opts...)
	if err != nil {
		_ = closer(ctx)
		return nil, nil, err
	}

	return sink, closer, nil
}
