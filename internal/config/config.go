// Package config loads the server settings using Viper: a YAML file
// (explicit --config flag, LONA_CONFIG_FILE, or ./lona.yaml), LONA_
// prefixed environment variables, and command-line flag overrides, in
// that precedence order from lowest to highest.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Registry names of the compiled-in capabilities. Settings default to
// these; applications override the setting, not the name.
const (
	CoreFrontendViewName  = "lona/frontend"
	Error404HandlerName   = "lona/404"
	Error403HandlerName   = "lona/403"
	Error500HandlerName   = "lona/500"
	MessageMiddlewareName = "lona/message"
	RoutingTableName      = "routes"
)

// Settings is everything the view runtime core reads from
// configuration.
type Settings struct {
	Host  string `mapstructure:"host" yaml:"host"`
	Port  int    `mapstructure:"port" yaml:"port"`
	Debug bool   `mapstructure:"debug" yaml:"debug"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`

	RoutingTable string `mapstructure:"routing_table" yaml:"routing_table"`

	FrontendView     string `mapstructure:"frontend_view" yaml:"frontend_view"`
	CoreFrontendView string `mapstructure:"core_frontend_view" yaml:"core_frontend_view"`

	Error404Handler         string `mapstructure:"error_404_handler" yaml:"error_404_handler"`
	Error404FallbackHandler string `mapstructure:"error_404_fallback_handler" yaml:"error_404_fallback_handler"`
	Error403Handler         string `mapstructure:"error_403_handler" yaml:"error_403_handler"`
	Error500Handler         string `mapstructure:"error_500_handler" yaml:"error_500_handler"`
	Error500FallbackHandler string `mapstructure:"error_500_fallback_handler" yaml:"error_500_fallback_handler"`

	Middlewares     []string `mapstructure:"middlewares" yaml:"middlewares"`
	CoreMiddlewares []string `mapstructure:"core_middlewares" yaml:"core_middlewares"`

	DefaultViewPriority          int `mapstructure:"default_view_priority" yaml:"default_view_priority"`
	DefaultMultiUserViewPriority int `mapstructure:"default_multi_user_view_priority" yaml:"default_multi_user_view_priority"`
	RequestMiddlewarePriority    int `mapstructure:"request_middleware_priority" yaml:"request_middleware_priority"`

	TemplateDirs         []string               `mapstructure:"template_dirs" yaml:"template_dirs"`
	TemplateExtraContext map[string]interface{} `mapstructure:"template_extra_context" yaml:"template_extra_context"`
	FrontendTemplate     string                 `mapstructure:"frontend_template" yaml:"frontend_template"`

	StartupHooks  []string `mapstructure:"startup_hooks" yaml:"startup_hooks"`
	ShutdownHooks []string `mapstructure:"shutdown_hooks" yaml:"shutdown_hooks"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns the settings a bare server runs with.
func Default() *Settings {
	return &Settings{
		Host:  "localhost",
		Port:  8080,
		Debug: false,

		LogLevel:  "info",
		LogFormat: "text",

		MaxWorkers: 10,

		RoutingTable: RoutingTableName,

		CoreFrontendView: CoreFrontendViewName,

		Error404Handler: Error404HandlerName,
		Error403Handler: Error403HandlerName,
		Error500Handler: Error500HandlerName,

		CoreMiddlewares: []string{MessageMiddlewareName},

		DefaultViewPriority:          5,
		DefaultMultiUserViewPriority: 3,
		RequestMiddlewarePriority:    1,

		FrontendTemplate: "lona/frontend.html",

		ShutdownTimeout: 5 * time.Second,
	}
}

// setDefaults seeds viper so that IsSet/Unmarshal see the defaults and
// environment variables bind.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("max_workers", defaults.MaxWorkers)
	v.SetDefault("routing_table", defaults.RoutingTable)
	v.SetDefault("frontend_view", "")
	v.SetDefault("core_frontend_view", defaults.CoreFrontendView)
	v.SetDefault("error_404_handler", defaults.Error404Handler)
	v.SetDefault("error_404_fallback_handler", "")
	v.SetDefault("error_403_handler", defaults.Error403Handler)
	v.SetDefault("error_500_handler", defaults.Error500Handler)
	v.SetDefault("error_500_fallback_handler", "")
	v.SetDefault("middlewares", []string{})
	v.SetDefault("core_middlewares", defaults.CoreMiddlewares)
	v.SetDefault("default_view_priority", defaults.DefaultViewPriority)
	v.SetDefault("default_multi_user_view_priority", defaults.DefaultMultiUserViewPriority)
	v.SetDefault("request_middleware_priority", defaults.RequestMiddlewarePriority)
	v.SetDefault("template_dirs", []string{})
	v.SetDefault("template_extra_context", map[string]interface{}{})
	v.SetDefault("frontend_template", defaults.FrontendTemplate)
	v.SetDefault("startup_hooks", []string{})
	v.SetDefault("shutdown_hooks", []string{})
	v.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)
}

// Load reads settings from configFile (empty means LONA_CONFIG_FILE,
// then ./lona.yaml, then pure defaults) plus the environment.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LONA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = v.GetString("config_file")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("lona")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// a missing default config file is not an error
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, err
			}
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates settings out of a prepared viper
// instance (used by Load and by the CLI, which binds flags first).
func FromViper(v *viper.Viper) (*Settings, error) {
	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// MiddlewareNames returns the effective ordered middleware chain:
// core middlewares first, then the application's.
func (s *Settings) MiddlewareNames() []string {
	names := make([]string, 0, len(s.CoreMiddlewares)+len(s.Middlewares))
	names = append(names, s.CoreMiddlewares...)
	names = append(names, s.Middlewares...)
	return names
}

// FrontendViewName returns the effective frontend handler name:
// the application override when set, the core shell otherwise.
func (s *Settings) FrontendViewName() string {
	if s.FrontendView != "" {
		return s.FrontendView
	}
	return s.CoreFrontendView
}
