package dbx

import (
	"fmt"
	"net/url"
	"strconv"
)

// ConnConfig represents the configuration required for database connection.
// DatabaseURL wins over the discrete fields when set.
type ConnConfig struct {
	DatabaseURL        string
	Host               string
	Port               int32
	DBName             string
	User               string
	Password           string
	MaxConn            int32
	IsLocalEnv         bool
	PreparedStatements []PreparedStatement
}

// ConnString returns the connection URL for the configuration.
func (c ConnConfig) ConnString() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}

	if c.Host == "" || c.DBName == "" || c.User == "" {
		return "", fmt.Errorf("no database url and incomplete connection settings: host=%q db=%q user=%q", c.Host, c.DBName, c.User)
	}

	host := c.Host
	if c.Port != 0 {
		host = host + ":" + strconv.Itoa(int(c.Port))
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   host,
		Path:   "/" + c.DBName,
	}

	if c.IsLocalEnv {
		u.RawQuery = "sslmode=disable"
	}

	return u.String(), nil
}
