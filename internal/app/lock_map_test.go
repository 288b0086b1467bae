package app

import (
	"testing"
	"time"

	"shortsched/internal/config"
)

func TestMapLockConfig(t *testing.T) {
	cases := []struct {
		name    string
		lock    config.LockConfig
		driver  string
		wantErr bool
	}{
		{name: "default", lock: config.LockConfig{}, driver: ""},
		{name: "none", lock: config.LockConfig{Driver: "none"}, driver: "none"},
		{name: "file", lock: config.LockConfig{Driver: "file", Path: "/tmp/locks"}, driver: "file"},
		{name: "file without path", lock: config.LockConfig{Driver: "file"}, wantErr: true},
		{name: "sqlite", lock: config.LockConfig{Driver: "SQLite", Path: "locks.db"}, driver: "sqlite"},
		{name: "sqlite bad busy", lock: config.LockConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "redis", lock: config.LockConfig{Driver: "redis"}, driver: "redis"},
		{name: "nats", lock: config.LockConfig{Driver: "nats", URL: "nats://127.0.0.1:4222"}, driver: "nats"},
		{name: "unknown", lock: config.LockConfig{Driver: "etcd"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc, err := mapLockConfig(&config.Config{Lock: tc.lock})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sc.Driver != tc.driver {
				t.Fatalf("driver = %q, want %q", sc.Driver, tc.driver)
			}
		})
	}
}

func TestMapLockConfigDefaults(t *testing.T) {
	sc, err := mapLockConfig(&config.Config{Lock: config.LockConfig{Driver: "redis"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Addr != "127.0.0.1:6379" {
		t.Fatalf("redis addr default = %q", sc.Addr)
	}
	sc, err = mapLockConfig(&config.Config{Lock: config.LockConfig{Driver: "sqlite", Path: "x.db"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.BusyTimeout != time.Second {
		t.Fatalf("busy timeout default = %v", sc.BusyTimeout)
	}
}
