package config

import (
	"errors"
	"testing"
	"time"

	"github.com/songhahaha66/inlong/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.EnablePack {
		t.Error("EnablePack should default to true")
	}
	if !cfg.EnableZip {
		t.Error("EnableZip should default to true")
	}
	if cfg.PackSize != 409600 {
		t.Errorf("PackSize = %d, want 409600", cfg.PackSize)
	}
	if cfg.PackTimeout != 3*time.Second {
		t.Errorf("PackTimeout = %v, want 3s", cfg.PackTimeout)
	}
	if cfg.ManagerUpdateInterval != 2*time.Minute {
		t.Errorf("ManagerUpdateInterval = %v, want 2m", cfg.ManagerUpdateInterval)
	}
	if cfg.BackpressurePolicy != "reject" {
		t.Errorf("BackpressurePolicy = %q, want reject", cfg.BackpressurePolicy)
	}
	if cfg.ZipCodec != "snappy" {
		t.Errorf("ZipCodec = %q, want snappy", cfg.ZipCodec)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.ProxyAddrs = []string{"127.0.0.1:46801"}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "static proxies",
			mutate: func(c *Config) {},
		},
		{
			name: "manager with group ids",
			mutate: func(c *Config) {
				c.ProxyAddrs = nil
				c.ManagerURL = "http://127.0.0.1:8083/inlong/manager/openapi/dataproxy/getIpList"
				c.GroupIDs = []string{"test_group"}
			},
		},
		{
			name: "manager without group ids",
			mutate: func(c *Config) {
				c.ProxyAddrs = nil
				c.ManagerURL = "http://127.0.0.1:8083/getIpList"
			},
			wantErr: true,
		},
		{
			name: "no endpoint source",
			mutate: func(c *Config) {
				c.ProxyAddrs = nil
			},
			wantErr: true,
		},
		{
			name: "list file is a source",
			mutate: func(c *Config) {
				c.ProxyAddrs = nil
				c.ProxyListFile = "/etc/inlong/proxies"
			},
		},
		{
			name: "http report needs url",
			mutate: func(c *Config) {
				c.ProxyAddrs = nil
				c.EnableHTTPReport = true
			},
			wantErr: true,
		},
		{
			name: "http report with url",
			mutate: func(c *Config) {
				c.ProxyAddrs = nil
				c.EnableHTTPReport = true
				c.HTTPReportURL = "http://127.0.0.1:46802/dataproxy/message"
			},
		},
		{
			name:    "zero pack size",
			mutate:  func(c *Config) { c.PackSize = 0 },
			wantErr: true,
		},
		{
			name:    "buffer ceiling below largest message",
			mutate:  func(c *Config) { c.MaxBufferBytes = c.ExtPackSize - 1 },
			wantErr: true,
		},
		{
			name:   "buffer ceiling disabled",
			mutate: func(c *Config) { c.MaxBufferBytes = 0 },
		},
		{
			name:    "unknown backpressure policy",
			mutate:  func(c *Config) { c.BackpressurePolicy = "spill" },
			wantErr: true,
		},
		{
			name:    "unknown unhealthy policy",
			mutate:  func(c *Config) { c.UnhealthyPolicy = "ignore" },
			wantErr: true,
		},
		{
			name:    "unknown codec",
			mutate:  func(c *Config) { c.ZipCodec = "lz4" },
			wantErr: true,
		},
		{
			name:    "unknown encoding",
			mutate:  func(c *Config) { c.Encoding = "xml" },
			wantErr: true,
		},
		{
			name: "backoff max below initial",
			mutate: func(c *Config) {
				c.RetryBackoffInitial = time.Second
				c.RetryBackoffMax = time.Millisecond
			},
			wantErr: true,
		},
		{
			name:    "zero retry times",
			mutate:  func(c *Config) { c.RetryTimes = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() expected error but got nil")
				}
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestValidateTuningIgnoresSource(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateTuning(); err != nil {
		t.Errorf("ValidateTuning() unexpected error: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for missing endpoint source")
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := Config{
		PackSize:   1024,
		GroupIDs:   []string{" g1 ", "", "g2"},
		ProxyAddrs: []string{"a:1", "  "},
	}
	cfg.SetDefaults()

	if cfg.PackSize != 1024 {
		t.Errorf("PackSize = %d, want 1024 (explicit value kept)", cfg.PackSize)
	}
	if cfg.ExtPackSize != DefaultExtPackSize {
		t.Errorf("ExtPackSize = %d, want %d", cfg.ExtPackSize, DefaultExtPackSize)
	}
	if cfg.PackTimeout != DefaultPackTimeout {
		t.Errorf("PackTimeout = %v, want %v", cfg.PackTimeout, DefaultPackTimeout)
	}
	if cfg.EnablePack {
		t.Error("SetDefaults must not touch booleans")
	}
	if len(cfg.GroupIDs) != 2 || cfg.GroupIDs[0] != "g1" || cfg.GroupIDs[1] != "g2" {
		t.Errorf("GroupIDs = %v, want [g1 g2]", cfg.GroupIDs)
	}
	if len(cfg.ProxyAddrs) != 1 {
		t.Errorf("ProxyAddrs = %v, want [a:1]", cfg.ProxyAddrs)
	}
}

func TestEffectiveMaxPackCount(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.EffectiveMaxPackCount(); got != cfg.MaxPackCount {
		t.Errorf("EffectiveMaxPackCount() = %d, want %d", got, cfg.MaxPackCount)
	}
	cfg.EnablePack = false
	if got := cfg.EffectiveMaxPackCount(); got != 1 {
		t.Errorf("EffectiveMaxPackCount() with packing off = %d, want 1", got)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"g1", []string{"g1"}},
		{"g1, g2 ,,g3", []string{"g1", "g2", "g3"}},
	}
	for _, tt := range tests {
		got := SplitList(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}
