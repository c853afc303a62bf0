package postgres

import (
	"net/url"
	"strconv"
)

type Config struct {
	URL          string
	PoolMaxConns int
}

// ToDBConnectionURI returns a connection URI to be used with the pgx package.
func (c Config) ToDBConnectionURI() string {
	if c.PoolMaxConns <= 0 {
		return c.URL
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return c.URL
	}

	q := u.Query()
	q.Set("pool_max_conns", strconv.Itoa(c.PoolMaxConns))
	u.RawQuery = q.Encode()
	return u.String()
}
