package config

import (
	"os"
	"time"
)

// ApplyEnvConfig applies configuration from environment variables (INLONG_*).
// Timers accept native units or Go durations. It respects flags that have
// been explicitly set (changed map).
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setList("group-ids", os.Getenv("INLONG_GROUP_IDS"), &cfg.GroupIDs)
	s.setString("manager-url", os.Getenv("INLONG_MANAGER_URL"), &cfg.ManagerURL)
	s.setList("proxy-addrs", os.Getenv("INLONG_PROXY_ADDRS"), &cfg.ProxyAddrs)
	s.setString("proxy-list-file", os.Getenv("INLONG_PROXY_LIST_FILE"), &cfg.ProxyListFile)
	s.setString("proxy-cache-file", os.Getenv("INLONG_PROXY_CACHE_FILE"), &cfg.ProxyCacheFile)
	s.setString("backpressure", os.Getenv("INLONG_BACKPRESSURE_POLICY"), &cfg.BackpressurePolicy)
	s.setString("zip-codec", os.Getenv("INLONG_ZIP_CODEC"), &cfg.ZipCodec)
	s.setString("encoding", os.Getenv("INLONG_ENCODING"), &cfg.Encoding)
	s.setString("unhealthy-policy", os.Getenv("INLONG_UNHEALTHY_POLICY"), &cfg.UnhealthyPolicy)
	s.setString("log-path", os.Getenv("INLONG_LOG_PATH"), &cfg.LogPath)
	s.setString("http-report-url", os.Getenv("INLONG_HTTP_REPORT_URL"), &cfg.HTTPReportURL)
	s.setString("auth-id", os.Getenv("INLONG_AUTH_ID"), &cfg.AuthID)
	s.setString("auth-key", os.Getenv("INLONG_AUTH_KEY"), &cfg.AuthKey)

	units := []struct {
		flag string
		env  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"manager-update-interval", "INLONG_MANAGER_UPDATE_INTERVAL", time.Minute, &cfg.ManagerUpdateInterval},
		{"manager-timeout", "INLONG_MANAGER_URL_TIMEOUT", time.Second, &cfg.ManagerTimeout},
		{"dispatch-interval", "INLONG_DISPATCH_INTERVAL_SEND", time.Millisecond, &cfg.DispatchInterval},
		{"pack-timeout", "INLONG_PACK_TIMEOUT", time.Millisecond, &cfg.PackTimeout},
		{"block-timeout", "INLONG_BLOCK_TIMEOUT", time.Millisecond, &cfg.BlockTimeout},
		{"detection-interval", "INLONG_TCP_DETECTION_INTERVAL", time.Millisecond, &cfg.TCPDetectionInterval},
		{"idle-time", "INLONG_TCP_IDLE_TIME", time.Millisecond, &cfg.TCPIdleTime},
		{"send-timeout", "INLONG_SEND_TIMEOUT", time.Millisecond, &cfg.SendTimeout},
		{"retry-backoff-initial", "INLONG_RETRY_BACKOFF_INITIAL", time.Millisecond, &cfg.RetryBackoffInitial},
		{"retry-backoff-max", "INLONG_RETRY_BACKOFF_MAX", time.Millisecond, &cfg.RetryBackoffMax},
		{"http-report-timeout", "INLONG_HTTP_REPORT_TIMEOUT", time.Millisecond, &cfg.HTTPReportTimeout},
	}
	for _, u := range units {
		if err := s.setUnitsFromString(u.flag, os.Getenv(u.env), u.unit, u.dst); err != nil {
			return err
		}
	}

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"max-proxy-num", "INLONG_MAX_PROXY_NUM", &cfg.MaxProxyNum},
		{"notify-workers", "INLONG_PER_GROUPID_THREAD_NUMS", &cfg.NotifyWorkers},
		{"recv-buf-size", "INLONG_RECV_BUF_SIZE", &cfg.RecvBufSize},
		{"send-buf-size", "INLONG_SEND_BUF_SIZE", &cfg.SendBufSize},
		{"pack-size", "INLONG_PACK_SIZE", &cfg.PackSize},
		{"ext-pack-size", "INLONG_EXT_PACK_SIZE", &cfg.ExtPackSize},
		{"max-pack-count", "INLONG_MAX_PACK_COUNT", &cfg.MaxPackCount},
		{"max-conns", "INLONG_MAX_CONNS_PER_PROXY", &cfg.MaxConnsPerProxy},
		{"retry-times", "INLONG_RETRY_TIMES", &cfg.RetryTimes},
		{"max-inflight", "INLONG_MAX_INFLIGHT", &cfg.MaxInflight},
		{"log-num", "INLONG_LOG_NUM", &cfg.LogNum},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	if err := s.setNonNegIntFromString("max-buffer-bytes", os.Getenv("INLONG_MAX_BUFFER_BYTES"), &cfg.MaxBufferBytes); err != nil {
		return err
	}
	if err := s.setNonNegIntFromString("min-zip-len", os.Getenv("INLONG_MIN_ZIP_LEN"), &cfg.MinZipLen); err != nil {
		return err
	}
	if err := s.setNonNegIntFromString("log-level", os.Getenv("INLONG_LOG_LEVEL"), &cfg.LogLevel); err != nil {
		return err
	}
	if err := s.setInt64FromString("log-size", os.Getenv("INLONG_LOG_SIZE"), &cfg.LogSize); err != nil {
		return err
	}

	s.setBoolFromString("enable-pack", os.Getenv("INLONG_ENABLE_PACK"), &cfg.EnablePack)
	s.setBoolFromString("enable-zip", os.Getenv("INLONG_ENABLE_ZIP"), &cfg.EnableZip)
	s.setBoolFromString("enable-http-report", os.Getenv("INLONG_ENABLE_HTTP_REPORT"), &cfg.EnableHTTPReport)
	s.setBoolFromString("need-auth", os.Getenv("INLONG_NEED_AUTH"), &cfg.NeedAuth)

	return nil
}
