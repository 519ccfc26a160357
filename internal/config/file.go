package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileConfig mirrors the native SDK's "init-param" object. Timers keep the
// native units: manager_update_interval in minutes, manager_url_timeout in
// seconds, everything else in milliseconds.
type FileConfig struct {
	GroupIDs              string `json:"inlong_group_ids" toml:"inlong_group_ids" yaml:"inlong_group_ids"`
	ManagerURL            string `json:"manager_url" toml:"manager_url" yaml:"manager_url"`
	ManagerUpdateInterval int64  `json:"manager_update_interval" toml:"manager_update_interval" yaml:"manager_update_interval"`
	ManagerURLTimeout     int64  `json:"manager_url_timeout" toml:"manager_url_timeout" yaml:"manager_url_timeout"`
	ProxyAddrs            string `json:"proxy_addrs" toml:"proxy_addrs" yaml:"proxy_addrs"`
	ProxyListFile         string `json:"proxy_list_file" toml:"proxy_list_file" yaml:"proxy_list_file"`
	ProxyCacheFile        string `json:"proxy_cache_file" toml:"proxy_cache_file" yaml:"proxy_cache_file"`
	MaxProxyNum           int    `json:"max_proxy_num" toml:"max_proxy_num" yaml:"max_proxy_num"`
	PerGroupIDThreadNums  int    `json:"per_groupid_thread_nums" toml:"per_groupid_thread_nums" yaml:"per_groupid_thread_nums"`
	DispatchIntervalZip   int64  `json:"dispatch_interval_zip" toml:"dispatch_interval_zip" yaml:"dispatch_interval_zip"`
	DispatchIntervalSend  int64  `json:"dispatch_interval_send" toml:"dispatch_interval_send" yaml:"dispatch_interval_send"`
	RecvBufSize           int    `json:"recv_buf_size" toml:"recv_buf_size" yaml:"recv_buf_size"`
	SendBufSize           int    `json:"send_buf_size" toml:"send_buf_size" yaml:"send_buf_size"`
	EnablePack            *bool  `json:"enable_pack" toml:"enable_pack" yaml:"enable_pack"`
	PackSize              int    `json:"pack_size" toml:"pack_size" yaml:"pack_size"`
	PackTimeout           int64  `json:"pack_timeout" toml:"pack_timeout" yaml:"pack_timeout"`
	ExtPackSize           int    `json:"ext_pack_size" toml:"ext_pack_size" yaml:"ext_pack_size"`
	MaxPackCount          int    `json:"max_pack_count" toml:"max_pack_count" yaml:"max_pack_count"`
	MaxBufferBytes        *int   `json:"max_buffer_bytes" toml:"max_buffer_bytes" yaml:"max_buffer_bytes"`
	BackpressurePolicy    string `json:"backpressure_policy" toml:"backpressure_policy" yaml:"backpressure_policy"`
	BlockTimeout          int64  `json:"block_timeout" toml:"block_timeout" yaml:"block_timeout"`
	EnableZip             *bool  `json:"enable_zip" toml:"enable_zip" yaml:"enable_zip"`
	MinZipLen             *int   `json:"min_zip_len" toml:"min_zip_len" yaml:"min_zip_len"`
	ZipCodec              string `json:"zip_codec" toml:"zip_codec" yaml:"zip_codec"`
	Encoding              string `json:"encoding" toml:"encoding" yaml:"encoding"`
	TCPDetectionInterval  int64  `json:"tcp_detection_interval" toml:"tcp_detection_interval" yaml:"tcp_detection_interval"`
	TCPIdleTime           int64  `json:"tcp_idle_time" toml:"tcp_idle_time" yaml:"tcp_idle_time"`
	MaxConnsPerProxy      int    `json:"max_conns_per_proxy" toml:"max_conns_per_proxy" yaml:"max_conns_per_proxy"`
	UnhealthyPolicy       string `json:"unhealthy_policy" toml:"unhealthy_policy" yaml:"unhealthy_policy"`
	SendTimeout           int64  `json:"send_timeout" toml:"send_timeout" yaml:"send_timeout"`
	RetryTimes            int    `json:"retry_times" toml:"retry_times" yaml:"retry_times"`
	RetryBackoffInitial   int64  `json:"retry_backoff_initial" toml:"retry_backoff_initial" yaml:"retry_backoff_initial"`
	RetryBackoffMax       int64  `json:"retry_backoff_max" toml:"retry_backoff_max" yaml:"retry_backoff_max"`
	MaxInflight           int    `json:"max_inflight" toml:"max_inflight" yaml:"max_inflight"`
	LogNum                int    `json:"log_num" toml:"log_num" yaml:"log_num"`
	LogSize               int64  `json:"log_size" toml:"log_size" yaml:"log_size"`
	LogLevel              *int   `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogPath               string `json:"log_path" toml:"log_path" yaml:"log_path"`
	EnableHTTPReport      *bool  `json:"enable_http_report" toml:"enable_http_report" yaml:"enable_http_report"`
	HTTPReportURL         string `json:"http_report_url" toml:"http_report_url" yaml:"http_report_url"`
	HTTPReportTimeout     int64  `json:"http_report_timeout" toml:"http_report_timeout" yaml:"http_report_timeout"`
	NeedAuth              *bool  `json:"need_auth" toml:"need_auth" yaml:"need_auth"`
	AuthID                string `json:"auth_id" toml:"auth_id" yaml:"auth_id"`
	AuthKey               string `json:"auth_key" toml:"auth_key" yaml:"auth_key"`
}

// fileDocument is the native layout. Files without an init-param section
// carry the keys at the top level.
type fileDocument struct {
	InitParam *FileConfig `json:"init-param" toml:"init-param" yaml:"init-param"`
}

// LoadFileConfig reads a config file. The format follows the extension:
// .json, .toml, .yaml or .yml.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	var unmarshal func([]byte, interface{}) error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		unmarshal = json.Unmarshal
	case ".toml":
		unmarshal = toml.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return fc, fmt.Errorf("unsupported config format %q", ext)
	}

	var doc fileDocument
	if err := unmarshal(b, &doc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.InitParam != nil {
		return *doc.InitParam, nil
	}
	if err := unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setList("group-ids", fc.GroupIDs, &cfg.GroupIDs)
	s.setString("manager-url", fc.ManagerURL, &cfg.ManagerURL)
	s.setUnits("manager-update-interval", fc.ManagerUpdateInterval, time.Minute, &cfg.ManagerUpdateInterval)
	s.setUnits("manager-timeout", fc.ManagerURLTimeout, time.Second, &cfg.ManagerTimeout)
	s.setList("proxy-addrs", fc.ProxyAddrs, &cfg.ProxyAddrs)
	s.setString("proxy-list-file", fc.ProxyListFile, &cfg.ProxyListFile)
	s.setString("proxy-cache-file", fc.ProxyCacheFile, &cfg.ProxyCacheFile)
	s.setInt("max-proxy-num", fc.MaxProxyNum, &cfg.MaxProxyNum)
	s.setInt("notify-workers", fc.PerGroupIDThreadNums, &cfg.NotifyWorkers)
	s.setUnits("dispatch-interval-zip", fc.DispatchIntervalZip, time.Millisecond, &cfg.DispatchIntervalZip)
	s.setUnits("dispatch-interval", fc.DispatchIntervalSend, time.Millisecond, &cfg.DispatchInterval)
	s.setInt("recv-buf-size", fc.RecvBufSize, &cfg.RecvBufSize)
	s.setInt("send-buf-size", fc.SendBufSize, &cfg.SendBufSize)

	s.setBool("enable-pack", fc.EnablePack, &cfg.EnablePack)
	s.setInt("pack-size", fc.PackSize, &cfg.PackSize)
	s.setUnits("pack-timeout", fc.PackTimeout, time.Millisecond, &cfg.PackTimeout)
	s.setInt("ext-pack-size", fc.ExtPackSize, &cfg.ExtPackSize)
	s.setInt("max-pack-count", fc.MaxPackCount, &cfg.MaxPackCount)
	s.setIntPtr("max-buffer-bytes", fc.MaxBufferBytes, &cfg.MaxBufferBytes)
	s.setString("backpressure", fc.BackpressurePolicy, &cfg.BackpressurePolicy)
	s.setUnits("block-timeout", fc.BlockTimeout, time.Millisecond, &cfg.BlockTimeout)

	s.setBool("enable-zip", fc.EnableZip, &cfg.EnableZip)
	s.setIntPtr("min-zip-len", fc.MinZipLen, &cfg.MinZipLen)
	s.setString("zip-codec", fc.ZipCodec, &cfg.ZipCodec)
	s.setString("encoding", fc.Encoding, &cfg.Encoding)

	s.setUnits("detection-interval", fc.TCPDetectionInterval, time.Millisecond, &cfg.TCPDetectionInterval)
	s.setUnits("idle-time", fc.TCPIdleTime, time.Millisecond, &cfg.TCPIdleTime)
	s.setInt("max-conns", fc.MaxConnsPerProxy, &cfg.MaxConnsPerProxy)
	s.setString("unhealthy-policy", fc.UnhealthyPolicy, &cfg.UnhealthyPolicy)

	s.setUnits("send-timeout", fc.SendTimeout, time.Millisecond, &cfg.SendTimeout)
	s.setInt("retry-times", fc.RetryTimes, &cfg.RetryTimes)
	s.setUnits("retry-backoff-initial", fc.RetryBackoffInitial, time.Millisecond, &cfg.RetryBackoffInitial)
	s.setUnits("retry-backoff-max", fc.RetryBackoffMax, time.Millisecond, &cfg.RetryBackoffMax)
	s.setInt("max-inflight", fc.MaxInflight, &cfg.MaxInflight)

	s.setInt("log-num", fc.LogNum, &cfg.LogNum)
	s.setInt64("log-size", fc.LogSize, &cfg.LogSize)
	s.setIntPtr("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-path", fc.LogPath, &cfg.LogPath)

	s.setBool("enable-http-report", fc.EnableHTTPReport, &cfg.EnableHTTPReport)
	s.setString("http-report-url", fc.HTTPReportURL, &cfg.HTTPReportURL)
	s.setUnits("http-report-timeout", fc.HTTPReportTimeout, time.Millisecond, &cfg.HTTPReportTimeout)

	s.setBool("need-auth", fc.NeedAuth, &cfg.NeedAuth)
	s.setString("auth-id", fc.AuthID, &cfg.AuthID)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)

	return nil
}

// Load layers a config file and INLONG_* variables onto cfg, skipping
// options whose flag is marked changed, then fills remaining defaults.
// An empty path skips the file. The result is not validated.
func Load(cfg *Config, path string, changed map[string]bool) error {
	if path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	cfg.SetDefaults()
	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
