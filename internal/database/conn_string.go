package database

import (
	"net/url"
	"strconv"

	"github.com/rickgao/bitfinex-sync/internal/config"
)

// ApplicationName tags every connection in pg_stat_activity.
const ApplicationName = "bitfinex-sync"

// BuildConnString renders cfg as a postgres:// URL usable by both pgxpool and
// golang-migrate. Credentials are escaped; an empty ssl_mode means prefer.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
