package geoip

import (
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/logger"
)

var (
	db *geoip2.Reader
	mu sync.RWMutex
)

// GeoInfo is the country-level location of one IP.
type GeoInfo struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Continent   string `json:"continent"`
	IsValid     bool   `json:"is_valid"`
}

// Init opens the GeoIP database when one is configured. Without it every
// lookup reports an invalid result and callers omit the enrichment.
func Init(cfg *config.Config) error {
	if cfg.GeoIP.DBPath == "" {
		return nil
	}

	reader, err := geoip2.Open(cfg.GeoIP.DBPath)
	if err != nil {
		logger.Warn("geoip database unavailable, IP location lookup disabled",
			zap.String("path", cfg.GeoIP.DBPath),
			zap.Error(err))
		return err
	}

	mu.Lock()
	db = reader
	mu.Unlock()

	logger.Info("geoip database loaded", zap.String("path", cfg.GeoIP.DBPath))
	return nil
}

// Close releases the reader.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if db != nil {
		db.Close()
		db = nil
	}
}

// Lookup resolves an IP to its country. Private and unparsable addresses
// come back as a local/invalid result.
func Lookup(ipStr string) *GeoInfo {
	info := &GeoInfo{IP: ipStr}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return info
	}

	if ip.IsPrivate() || ip.IsLoopback() {
		info.Country = "Local Network"
		info.CountryCode = "LAN"
		info.Continent = "Local"
		info.IsValid = true
		return info
	}

	mu.RLock()
	reader := db
	mu.RUnlock()
	if reader == nil {
		return info
	}

	record, err := reader.Country(ip)
	if err != nil {
		return info
	}

	info.Country = record.Country.Names["en"]
	info.CountryCode = record.Country.IsoCode
	info.Continent = record.Continent.Names["en"]
	info.IsValid = true
	return info
}
