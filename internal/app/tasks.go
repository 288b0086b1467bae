package app

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"shortsched/internal/config"
	"shortsched/internal/task/scheduler"
)

// configRegistrar registers the tasks declared in the config file.
func configRegistrar(tasks []config.TaskConfig) scheduler.Registrar {
	return func(s *scheduler.Schedule) {
		for _, tc := range tasks {
			p := s.Exec(tc.Command)
			if every := strings.TrimSpace(tc.Every); every != "" {
				// A bad duration leaves the task without an interval; Register rejects it.
				if d, err := time.ParseDuration(every); err == nil {
					p.Every(d)
				}
			} else if tc.EverySeconds != 0 {
				p.EverySeconds(tc.EverySeconds)
			}
			if tc.WithoutOverlapping {
				p.WithoutOverlapping()
			}
			if tc.OnOneServer {
				p.OnOneServer()
			}
			if tc.RunInMaintenanceMode {
				p.RunInMaintenanceMode()
			}
			if tc.Verbose {
				p.Verbose()
			}
			if tc.When != nil {
				for _, pred := range whenPredicates(*tc.When) {
					p.WhenE(pred)
				}
			}
		}
	}
}

func whenPredicates(w config.WhenConfig) []func() (bool, error) {
	var out []func() (bool, error)
	if path := strings.TrimSpace(w.FileExists); path != "" {
		out = append(out, func() (bool, error) { return fileExists(path) })
	}
	if path := strings.TrimSpace(w.FileMissing); path != "" {
		out = append(out, func() (bool, error) {
			ok, err := fileExists(path)
			return !ok, err
		})
	}
	if name := strings.TrimSpace(w.EnvSet); name != "" {
		out = append(out, func() (bool, error) {
			v, ok := os.LookupEnv(name)
			return ok && v != "", nil
		})
	}
	return out
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
