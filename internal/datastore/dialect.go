package datastore

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
)

// openDatabase opens a gorm connection for the configured driver and tunes
// its pool. SQLite is limited to a single connection so writers serialize
// inside the engine.
func openDatabase(settings conf.DatabaseSettings) (*gorm.DB, error) {
	driver := strings.ToLower(settings.Driver)
	if driver == "" {
		driver = conf.DriverSQLite
	}

	dialector, err := getDialector(driver, settings)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(GetLogger(), settings.SlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(fmt.Errorf("failed to open %s database: %w", driver, err), "open",
			"driver", driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open", "driver", driver)
	}
	switch driver {
	case conf.DriverSQLite:
		sqlDB.SetMaxOpenConns(1)
	default:
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	GetLogger().Info("database opened",
		logger.String("driver", driver),
		logger.String("target", describeTarget(driver, settings)))
	return db, nil
}

func getDialector(driver string, settings conf.DatabaseSettings) (gorm.Dialector, error) {
	switch driver {
	case conf.DriverSQLite:
		if settings.Path == "" {
			return nil, configError("sqlite path is empty")
		}
		if settings.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(settings.Path), 0o755); err != nil {
				return nil, errors.New(err).
					Component(componentName).
					Category(errors.CategoryFileIO).
					Context("operation", "create_database_dir").
					Context("path", settings.Path).
					Build()
			}
		}
		return sqliteDialector(settings.Path), nil
	case conf.DriverMySQL:
		return mysql.Open(mysqlDSN(settings)), nil
	case conf.DriverPostgres:
		return postgres.New(postgres.Config{DSN: postgresDSN(settings)}), nil
	default:
		return nil, configError(fmt.Sprintf("unsupported database driver %q", driver))
	}
}

func mysqlDSN(settings conf.DatabaseSettings) string {
	cfg := gomysql.NewConfig()
	cfg.User = settings.Username
	cfg.Passwd = settings.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	cfg.DBName = settings.Name
	cfg.ParseTime = true
	cfg.Loc = time.Local
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func postgresDSN(settings conf.DatabaseSettings) string {
	sslMode := settings.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(settings.Username, settings.Password),
		Host:     net.JoinHostPort(settings.Host, strconv.Itoa(settings.Port)),
		Path:     "/" + settings.Name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	return u.String()
}

// describeTarget names the database without credentials, for logging.
func describeTarget(driver string, settings conf.DatabaseSettings) string {
	if driver == conf.DriverSQLite {
		return settings.Path
	}
	return fmt.Sprintf("%s:%d/%s", settings.Host, settings.Port, settings.Name)
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Build()
}
