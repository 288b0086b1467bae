package app

import (
	"fmt"
	"strings"
	"time"

	"shortsched/internal/config"
	"shortsched/internal/storage"
)

func mapLockConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	lc := cfg.Lock
	driver := strings.ToLower(strings.TrimSpace(lc.Driver))
	path := strings.TrimSpace(lc.Path)
	switch driver {
	case "", "memory", "none":
		return storage.Config{Driver: driver}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("lock.path is required when lock.driver=file")
		}
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("lock.path is required when lock.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("lock.busy_timeout", lc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "redis":
		addr := strings.TrimSpace(lc.Addr)
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		return storage.Config{Driver: driver, Addr: addr, Password: lc.Password, DB: lc.DB}, nil
	case "nats":
		return storage.Config{Driver: driver, URL: strings.TrimSpace(lc.URL), Bucket: strings.TrimSpace(lc.Bucket)}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown lock.driver: %s", lc.Driver)
	}
}
