// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Supported SQL dialects for the trial store.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite"
)

var defaultPorts = map[string]int{
	DialectPostgres: 5432,
	DialectMySQL:    3306,
}

// DatabaseConfig points the trial store at a SQL database.
//
//	database:
//	  driver: postgres
//	  host: localhost
//	  database: instruct
//	  username: instruct
//	  password: ${PG_PASSWORD}
type DatabaseConfig struct {
	// Driver is postgres, mysql or sqlite ("sqlite3" is accepted).
	Driver string `yaml:"driver" json:"driver" jsonschema:"title=Driver,description=SQL driver,enum=postgres,enum=mysql,enum=sqlite,enum=sqlite3"`

	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Database server host (not used by SQLite)"`
	Port int    `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,description=Database server port (driver default when empty)"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database" json:"database" jsonschema:"title=Database,description=Database name or SQLite file path"`

	Username string `yaml:"username,omitempty" json:"username,omitempty" jsonschema:"title=Username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty" jsonschema:"title=Password"`

	// SSLMode is passed to PostgreSQL as sslmode.
	SSLMode string `yaml:"ssl_mode,omitempty" json:"ssl_mode,omitempty" jsonschema:"title=SSL Mode,description=PostgreSQL sslmode,default=disable"`

	// URL is a complete driver DSN and wins over the individual fields.
	URL string `yaml:"url,omitempty" json:"url,omitempty" jsonschema:"title=URL,description=Raw driver DSN"`

	MaxConns int `yaml:"max_conns,omitempty" json:"max_conns,omitempty" jsonschema:"title=Max Open Connections,minimum=1,default=25"`
	MaxIdle  int `yaml:"max_idle,omitempty" json:"max_idle,omitempty" jsonschema:"title=Max Idle Connections,minimum=1,default=5"`

	// TablePrefix is prepended to the trial table name.
	TablePrefix string `yaml:"table_prefix,omitempty" json:"table_prefix,omitempty" jsonschema:"title=Table Prefix,default=instruct_"`
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 25
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.TablePrefix == "" {
		c.TablePrefix = "instruct_"
	}
	if c.Port == 0 {
		c.Port = defaultPorts[c.Dialect()]
	}
	if c.Dialect() == DialectPostgres && c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the section and reports every problem.
func (c *DatabaseConfig) Validate() error {
	var errs []error
	switch c.Dialect() {
	case DialectPostgres, DialectMySQL, DialectSQLite:
	case "":
		errs = append(errs, fmt.Errorf("driver is required"))
	default:
		errs = append(errs, fmt.Errorf("invalid driver %q (valid: postgres, mysql, sqlite)", c.Driver))
	}

	if c.URL == "" {
		if c.Database == "" {
			errs = append(errs, fmt.Errorf("database is required"))
		}
		if c.Host == "" && c.Dialect() != DialectSQLite && c.Dialect() != "" {
			errs = append(errs, fmt.Errorf("host is required for %s", c.Driver))
		}
	}
	if c.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("max_conns must be non-negative"))
	}
	if c.MaxIdle < 0 {
		errs = append(errs, fmt.Errorf("max_idle must be non-negative"))
	}
	return errors.Join(errs...)
}

// Dialect returns the normalized SQL dialect.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return DialectSQLite
	}
	return c.Driver
}

// DriverName returns the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.Dialect() == DialectSQLite {
		return "sqlite3"
	}
	return c.Driver
}

// DSN returns the connection string for DriverName.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	switch c.Dialect() {
	case DialectPostgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:   "/" + c.Database,
		}
		if c.Username != "" {
			if c.Password != "" {
				u.User = url.UserPassword(c.Username, c.Password)
			} else {
				u.User = url.User(c.Username)
			}
		}
		if c.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
		}
		return u.String()

	case DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN()

	case DialectSQLite:
		return c.Database
	}
	return ""
}

// Redacted is DSN with the password masked, for logs and errors.
func (c *DatabaseConfig) Redacted() string {
	if c.URL != "" {
		if u, err := url.Parse(c.URL); err == nil && u.User != nil {
			return u.Redacted()
		}
		return c.Dialect() + " (url)"
	}
	if c.Password == "" {
		return c.DSN()
	}
	masked := *c
	masked.Password = "xxxxx"
	return masked.DSN()
}

// Rebind rewrites ? placeholders to $N for postgres and leaves other
// dialects untouched.
func Rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
