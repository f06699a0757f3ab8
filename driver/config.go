package driver

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

// ConnConfig describes how to reach a database. When DSN is set it is used
// verbatim and the other connection fields are ignored.
type ConnConfig struct {
	Driver   string            `yaml:"driver"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Database string            `yaml:"database"`
	Params   map[string]string `yaml:"params"`
	DSN      string            `yaml:"dsn"`
}

// String describes the target without credentials.
func (c ConnConfig) String() string {
	if c.DSN != "" {
		return c.Driver + "://(dsn)"
	}
	if c.Host == "" {
		return c.Driver + ":" + c.Database
	}
	return fmt.Sprintf("%s://%s/%s", c.Driver, c.addr(0), c.Database)
}

func (c ConnConfig) addr(defaultPort int) string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c ConnConfig) sortedParams() []string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MySQLDSN formats the configuration with mysql.Config. parseTime is enabled
// unless Params overrides it.
func (c ConnConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.addr(3306)
	mc.DBName = c.Database
	mc.ParseTime = true
	for _, k := range c.sortedParams() {
		if k == "parseTime" {
			mc.ParseTime = c.Params[k] == "true"
			continue
		}
		if mc.Params == nil {
			mc.Params = make(map[string]string)
		}
		mc.Params[k] = c.Params[k]
	}
	return mc.FormatDSN()
}

// PostgresURL formats the configuration as a postgres:// URL understood by
// lib/pq and pgx.
func (c ConnConfig) PostgresURL() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.addr(5432),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	for _, k := range c.sortedParams() {
		q.Set(k, c.Params[k])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SQLiteDSN returns the database path with Params appended as a query string.
func (c ConnConfig) SQLiteDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	if len(c.Params) == 0 {
		return c.Database
	}
	q := url.Values{}
	for _, k := range c.sortedParams() {
		q.Add(k, c.Params[k])
	}
	sep := "?"
	if strings.Contains(c.Database, "?") {
		sep = "&"
	}
	return c.Database + sep + q.Encode()
}

// IsolationLevel names a transaction isolation level. The zero value keeps
// the backend default.
type IsolationLevel string

const (
	IsolationDefault         IsolationLevel = ""
	IsolationReadUncommitted IsolationLevel = "READ UNCOMMITTED"
	IsolationReadCommitted   IsolationLevel = "READ COMMITTED"
	IsolationRepeatableRead  IsolationLevel = "REPEATABLE READ"
	IsolationSerializable    IsolationLevel = "SERIALIZABLE"
)

// ParseIsolation accepts "read_committed", "READ COMMITTED", "serializable" and similar.
func ParseIsolation(s string) (IsolationLevel, error) {
	norm := strings.ToUpper(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " "))
	switch IsolationLevel(norm) {
	case IsolationDefault, IsolationReadUncommitted, IsolationReadCommitted, IsolationRepeatableRead, IsolationSerializable:
		return IsolationLevel(norm), nil
	case "DEFAULT":
		return IsolationDefault, nil
	}
	return IsolationDefault, fmt.Errorf("unknown isolation level %q", s)
}

func (l IsolationLevel) sqlLevel() sql.IsolationLevel {
	switch l {
	case IsolationReadUncommitted:
		return sql.LevelReadUncommitted
	case IsolationReadCommitted:
		return sql.LevelReadCommitted
	case IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

func (l IsolationLevel) pgxLevel() pgx.TxIsoLevel {
	switch l {
	case IsolationReadUncommitted:
		return pgx.ReadUncommitted
	case IsolationReadCommitted:
		return pgx.ReadCommitted
	case IsolationRepeatableRead:
		return pgx.RepeatableRead
	case IsolationSerializable:
		return pgx.Serializable
	default:
		return ""
	}
}
