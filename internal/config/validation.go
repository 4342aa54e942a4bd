package config

import (
	"fmt"
	"os"
)

// Validate rejects settings the server cannot run with. Called by Load;
// exported because the doctor command re-validates explicitly.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", s.Port)
	}

	if s.Host == "" {
		return fmt.Errorf("host must not be empty")
	}

	if s.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", s.MaxWorkers)
	}

	for _, priority := range []struct {
		name  string
		value int
	}{
		{"default_view_priority", s.DefaultViewPriority},
		{"default_multi_user_view_priority", s.DefaultMultiUserViewPriority},
		{"request_middleware_priority", s.RequestMiddlewarePriority},
	} {
		if priority.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", priority.name, priority.value)
		}
	}

	switch s.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", s.LogFormat)
	}

	if s.RoutingTable == "" {
		return fmt.Errorf("routing_table must not be empty")
	}

	if s.CoreFrontendView == "" {
		return fmt.Errorf("core_frontend_view must not be empty")
	}

	for _, dir := range s.TemplateDirs {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("template dir %q: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("template dir %q is not a directory", dir)
		}
	}

	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}

	return nil
}
