package oxidb

import "context"

func DropCollection(ctx context.Context, c *Client, name string) error {
	return c.dropCollection(ctx, name)
}
