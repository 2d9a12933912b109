// Package config loads the router's INI configuration, mirroring the
// section.key lookup of the original MsquicStorage ConfigManager.
package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config holds every key the router's components consume.
type Config struct {
	QUICPort            int
	QUICCertificateFile string
	QUICPrivateKeyFile  string

	WebTransportPort            int
	WebTransportCertificateFile string
	WebTransportPrivateKeyFile  string

	MysqlIP       string
	MysqlPort     int
	MysqlUsername string
	MysqlPassword string
	MysqlDatabase string

	// RouterShardCount is 0 to mean "one shard per CPU" (runtime.GOMAXPROCS(0)).
	RouterShardCount   int
	RouterRouteCacheSize int
	RouterRegisterSecret string
	RouterALPN           string
}

const defaultRouteCacheSize = 100
const defaultALPN = "quic"

// Load reads path as an INI file and validates the keys the router requires.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	c := &Config{
		RouterRouteCacheSize: defaultRouteCacheSize,
		RouterALPN:           defaultALPN,
	}

	quic := f.Section("MsquicStorage")
	c.QUICPort = quic.Key("port").MustInt(0)
	c.QUICCertificateFile = quic.Key("certificateFile").String()
	c.QUICPrivateKeyFile = quic.Key("privateKeyFile").String()

	wt := f.Section("MquicWebTransportServer")
	c.WebTransportPort = wt.Key("port").MustInt(0)
	c.WebTransportCertificateFile = wt.Key("certificateFile").String()
	c.WebTransportPrivateKeyFile = wt.Key("privateKeyFile").String()

	mysql := f.Section("Mysql")
	c.MysqlIP = mysql.Key("ip").String()
	c.MysqlPort = mysql.Key("port").MustInt(3306)
	c.MysqlUsername = mysql.Key("username").String()
	c.MysqlPassword = mysql.Key("password").String()
	c.MysqlDatabase = mysql.Key("database").String()

	router := f.Section("Router")
	c.RouterShardCount = router.Key("shardCount").MustInt(0)
	c.RouterRouteCacheSize = router.Key("routeCacheSize").MustInt(defaultRouteCacheSize)
	c.RouterRegisterSecret = router.Key("registerSecret").String()
	c.RouterALPN = router.Key("alpn").MustString(defaultALPN)

	if c.MysqlDatabase == "" {
		return nil, fmt.Errorf("config: Mysql.database is required")
	}
	if c.RouterRegisterSecret == "" {
		return nil, fmt.Errorf("config: Router.registerSecret is required")
	}

	return c, nil
}

// DSN builds the go-sql-driver/mysql data source name for this configuration.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.MysqlUsername, c.MysqlPassword, c.MysqlIP, c.MysqlPort, c.MysqlDatabase)
}
