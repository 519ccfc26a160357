// Package config holds the client configuration: defaults, validation,
// and loading from the native JSON document, TOML, YAML and INLONG_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/songhahaha66/inlong/internal/adapters/wire"
	"github.com/songhahaha66/inlong/internal/app"
	"github.com/songhahaha66/inlong/internal/domain"
)

// Defaults matching the native SDK.
const (
	DefaultManagerUpdateInterval = 2 * time.Minute
	DefaultManagerTimeout        = 5 * time.Second
	DefaultMaxProxyNum           = 8
	DefaultNotifyWorkers         = 1
	DefaultDispatchIntervalZip   = 8 * time.Millisecond
	DefaultDispatchInterval      = 10 * time.Millisecond
	DefaultSocketBufSize         = 10240000
	DefaultPackSize              = 409600
	DefaultPackTimeout           = 3000 * time.Millisecond
	DefaultExtPackSize           = 409600
	DefaultMinZipLen             = 512
	DefaultDetectionInterval     = 60 * time.Second
	DefaultIdleTime              = 10 * time.Minute
	DefaultLogNum                = 10
	DefaultLogSize               = 100 << 20
	DefaultLogLevel              = 2
	DefaultLogPath               = "./"
	DefaultHTTPReportTimeout     = 10 * time.Second
)

// Defaults for options the native SDK does not have.
const (
	DefaultMaxBufferBytes      = 64 << 20
	DefaultBlockTimeout        = time.Second
	DefaultMaxConnsPerProxy    = 4
	DefaultRetryBackoffInitial = 100 * time.Millisecond
	DefaultRetryBackoffMax     = 5 * time.Second
	DefaultZipCodec            = app.CodecSnappy
	DefaultEncoding            = wire.EncodingMsgpack
)

// Config holds the client configuration. Start from DefaultConfig; a zero
// Config disables packing and compression.
type Config struct {
	GroupIDs []string

	ManagerURL            string
	ManagerUpdateInterval time.Duration
	ManagerTimeout        time.Duration

	// ProxyAddrs pins the endpoint set and bypasses the manager.
	ProxyAddrs []string
	// ProxyListFile is watched and re-read on change; one address per line.
	ProxyListFile string
	// ProxyCacheFile keeps the last manager answer across restarts.
	ProxyCacheFile string
	MaxProxyNum    int

	NotifyWorkers       int
	DispatchIntervalZip time.Duration
	DispatchInterval    time.Duration

	RecvBufSize int
	SendBufSize int

	EnablePack         bool
	PackSize           int
	PackTimeout        time.Duration
	ExtPackSize        int
	MaxPackCount       int
	MaxBufferBytes     int
	BackpressurePolicy string
	BlockTimeout       time.Duration

	EnableZip bool
	MinZipLen int
	ZipCodec  string
	Encoding  string

	TCPDetectionInterval time.Duration
	TCPIdleTime          time.Duration
	MaxConnsPerProxy     int
	UnhealthyPolicy      string

	SendTimeout         time.Duration
	RetryTimes          int
	RetryBackoffInitial time.Duration
	RetryBackoffMax     time.Duration
	MaxInflight         int

	LogNum   int
	LogSize  int64
	LogLevel int
	LogPath  string

	EnableHTTPReport  bool
	HTTPReportURL     string
	HTTPReportTimeout time.Duration

	NeedAuth bool
	AuthID   string
	AuthKey  string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ManagerUpdateInterval: DefaultManagerUpdateInterval,
		ManagerTimeout:        DefaultManagerTimeout,
		MaxProxyNum:           DefaultMaxProxyNum,
		NotifyWorkers:         DefaultNotifyWorkers,
		DispatchIntervalZip:   DefaultDispatchIntervalZip,
		DispatchInterval:      DefaultDispatchInterval,
		RecvBufSize:           DefaultSocketBufSize,
		SendBufSize:           DefaultSocketBufSize,
		EnablePack:            true,
		PackSize:              DefaultPackSize,
		PackTimeout:           DefaultPackTimeout,
		ExtPackSize:           DefaultExtPackSize,
		MaxPackCount:          app.DefaultMaxPackCount,
		MaxBufferBytes:        DefaultMaxBufferBytes,
		BackpressurePolicy:    string(app.PolicyReject),
		BlockTimeout:          DefaultBlockTimeout,
		EnableZip:             true,
		MinZipLen:             DefaultMinZipLen,
		ZipCodec:              DefaultZipCodec,
		Encoding:              DefaultEncoding,
		TCPDetectionInterval:  DefaultDetectionInterval,
		TCPIdleTime:           DefaultIdleTime,
		MaxConnsPerProxy:      DefaultMaxConnsPerProxy,
		UnhealthyPolicy:       string(app.UnhealthyProbe),
		SendTimeout:           app.DefaultSendTimeout,
		RetryTimes:            app.DefaultMaxAttempts,
		RetryBackoffInitial:   DefaultRetryBackoffInitial,
		RetryBackoffMax:       DefaultRetryBackoffMax,
		MaxInflight:           app.DefaultMaxInflight,
		LogNum:                DefaultLogNum,
		LogSize:               DefaultLogSize,
		LogLevel:              DefaultLogLevel,
		LogPath:               DefaultLogPath,
		HTTPReportTimeout:     DefaultHTTPReportTimeout,
	}
}

// SetDefaults fills zero-valued numeric, duration and name fields.
// Booleans are left alone.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	setDur := func(dst *time.Duration, def time.Duration) {
		if *dst <= 0 {
			*dst = def
		}
	}
	setInt := func(dst *int, def int) {
		if *dst <= 0 {
			*dst = def
		}
	}
	setStr := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}

	setDur(&c.ManagerUpdateInterval, d.ManagerUpdateInterval)
	setDur(&c.ManagerTimeout, d.ManagerTimeout)
	setDur(&c.DispatchIntervalZip, d.DispatchIntervalZip)
	setDur(&c.DispatchInterval, d.DispatchInterval)
	setDur(&c.PackTimeout, d.PackTimeout)
	setDur(&c.BlockTimeout, d.BlockTimeout)
	setDur(&c.TCPDetectionInterval, d.TCPDetectionInterval)
	setDur(&c.TCPIdleTime, d.TCPIdleTime)
	setDur(&c.SendTimeout, d.SendTimeout)
	setDur(&c.RetryBackoffInitial, d.RetryBackoffInitial)
	setDur(&c.RetryBackoffMax, d.RetryBackoffMax)
	setDur(&c.HTTPReportTimeout, d.HTTPReportTimeout)

	setInt(&c.MaxProxyNum, d.MaxProxyNum)
	setInt(&c.NotifyWorkers, d.NotifyWorkers)
	setInt(&c.PackSize, d.PackSize)
	setInt(&c.ExtPackSize, d.ExtPackSize)
	setInt(&c.MaxPackCount, d.MaxPackCount)
	setInt(&c.MaxConnsPerProxy, d.MaxConnsPerProxy)
	setInt(&c.RetryTimes, d.RetryTimes)
	setInt(&c.MaxInflight, d.MaxInflight)
	setInt(&c.LogNum, d.LogNum)
	if c.LogSize <= 0 {
		c.LogSize = d.LogSize
	}

	setStr(&c.BackpressurePolicy, d.BackpressurePolicy)
	setStr(&c.ZipCodec, d.ZipCodec)
	setStr(&c.Encoding, d.Encoding)
	setStr(&c.UnhealthyPolicy, d.UnhealthyPolicy)
	setStr(&c.LogPath, d.LogPath)

	c.GroupIDs = cleanList(c.GroupIDs)
	c.ProxyAddrs = cleanList(c.ProxyAddrs)
}

// Validate checks the configuration. Errors wrap domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return c.ValidateTuning()
}

// ValidateTuning checks everything except the endpoint source. It is
// used when the caller supplies its own resolver.
func (c *Config) ValidateTuning() error {
	if err := c.validateTuning(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) validateSource() error {
	if c.EnableHTTPReport {
		if c.HTTPReportURL == "" {
			return fmt.Errorf("http_report_url is required when enable_http_report is set")
		}
		return nil
	}
	if c.ManagerURL == "" && len(c.ProxyAddrs) == 0 && c.ProxyListFile == "" {
		return fmt.Errorf("one of manager_url, proxy_addrs or proxy_list_file is required")
	}
	if c.ManagerURL != "" && len(c.ProxyAddrs) == 0 && c.ProxyListFile == "" && len(c.GroupIDs) == 0 {
		return fmt.Errorf("inlong_group_ids is required with manager_url")
	}
	return nil
}

func (c *Config) validateTuning() error {
	if c.PackSize <= 0 {
		return fmt.Errorf("pack_size must be positive")
	}
	if c.ExtPackSize <= 0 {
		return fmt.Errorf("ext_pack_size must be positive")
	}
	if c.MaxBufferBytes < 0 {
		return fmt.Errorf("max_buffer_bytes must not be negative")
	}
	if c.MaxBufferBytes > 0 && c.MaxBufferBytes < c.ExtPackSize {
		return fmt.Errorf("max_buffer_bytes (%d) is smaller than ext_pack_size (%d)", c.MaxBufferBytes, c.ExtPackSize)
	}
	if c.MinZipLen < 0 {
		return fmt.Errorf("min_zip_len must not be negative")
	}
	if c.PackTimeout <= 0 {
		return fmt.Errorf("pack_timeout must be positive")
	}
	if c.DispatchInterval <= 0 {
		return fmt.Errorf("dispatch_interval_send must be positive")
	}
	if c.ManagerUpdateInterval <= 0 {
		return fmt.Errorf("manager_update_interval must be positive")
	}
	if c.ManagerTimeout <= 0 {
		return fmt.Errorf("manager_url_timeout must be positive")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive")
	}
	if c.RetryTimes <= 0 {
		return fmt.Errorf("retry_times must be positive")
	}
	if c.MaxInflight <= 0 {
		return fmt.Errorf("max_inflight must be positive")
	}
	if c.MaxConnsPerProxy <= 0 {
		return fmt.Errorf("max_conns_per_proxy must be positive")
	}
	if c.NotifyWorkers <= 0 {
		return fmt.Errorf("per_groupid_thread_nums must be positive")
	}
	if c.RetryBackoffMax < c.RetryBackoffInitial {
		return fmt.Errorf("retry_backoff_max must not be below retry_backoff_initial")
	}

	if _, err := app.ParseBackpressurePolicy(c.BackpressurePolicy); err != nil {
		return err
	}
	if _, err := app.ParseUnhealthyPolicy(c.UnhealthyPolicy); err != nil {
		return err
	}
	if _, err := app.ParseCodec(c.ZipCodec); err != nil {
		return err
	}
	if _, err := wire.NewEncoder(c.Encoding); err != nil {
		return err
	}
	return nil
}

// EffectiveMaxPackCount is the per-batch message cap after EnablePack.
func (c *Config) EffectiveMaxPackCount() int {
	if !c.EnablePack {
		return 1
	}
	return c.MaxPackCount
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	return cleanList(strings.Split(s, ","))
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
