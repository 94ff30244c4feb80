package adminrpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/flowbase/flowbase/pkg/flowtype"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientConfig parameterizes Client, mirroring clusterrpc.ClientConfig.
type ClientConfig struct {
	Addr        string
	TLS         *tls.Config
	DialTimeout time.Duration
}

// Client is flowbasectl's connection to a controller's admin RPC
// listener.
type Client struct {
	conn *grpc.ClientConn
	rpc  AdminClient
}

// Dial connects to the controller at cfg.Addr.
func Dial(cfg ClientConfig) (*Client, error) {
	var creds credentials.TransportCredentials
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}

	ctx := context.Background()
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		dialOpts = append(dialOpts, grpc.WithBlock())
	}

	conn, err := grpc.DialContext(ctx, cfg.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("adminrpc: dial %s: %w", cfg.Addr, err)
	}
	return &Client{conn: conn, rpc: NewAdminClient(conn)}, nil
}

// ExtendRecipe installs one recipe DDL statement.
func (c *Client) ExtendRecipe(ctx context.Context, ddl string) error {
	_, err := c.rpc.ExtendRecipe(ctx, &ExtendRecipeRequest{DDL: ddl})
	return err
}

// InsertRow inserts one row into table.
func (c *Client) InsertRow(ctx context.Context, table string, row flowtype.Key) error {
	_, err := c.rpc.TableWrite(ctx, &TableWriteRequest{Table: table, Op: OpInsert, Row: row})
	return err
}

// DeleteRow deletes one row from table.
func (c *Client) DeleteRow(ctx context.Context, table string, row flowtype.Key) error {
	_, err := c.rpc.TableWrite(ctx, &TableWriteRequest{Table: table, Op: OpDelete, Row: row})
	return err
}

// UpsertRow inserts or replaces one row in table.
func (c *Client) UpsertRow(ctx context.Context, table string, row flowtype.Key) error {
	_, err := c.rpc.TableWrite(ctx, &TableWriteRequest{Table: table, Op: OpInsertOrUpdate, Row: row})
	return err
}

// Lookup queries view for the rows under key, optionally blocking on
// a partial miss.
func (c *Client) Lookup(ctx context.Context, view string, key flowtype.Key, blockOnMiss bool) ([]flowtype.Key, bool, error) {
	resp, err := c.rpc.ViewLookup(ctx, &ViewLookupRequest{View: view, Key: key, BlockOnMiss: blockOnMiss})
	if err != nil {
		return nil, false, err
	}
	return resp.Rows, resp.Found, nil
}

// Range queries view for every row with a key in [lo, hi].
func (c *Client) Range(ctx context.Context, view string, lo, hi flowtype.Key, blockOnMiss bool) ([]flowtype.Key, bool, error) {
	resp, err := c.rpc.ViewLookup(ctx, &ViewLookupRequest{View: view, Lo: lo, Hi: hi, Range: true, BlockOnMiss: blockOnMiss})
	if err != nil {
		return nil, false, err
	}
	return resp.Rows, resp.Found, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
