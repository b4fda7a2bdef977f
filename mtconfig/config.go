// Package mtconfig loads the application-identity fields the MTProto
// handshake's initConnection call carries, generalizing the teacher's
// AppConfig struct. Two loaders are provided: environment variables (for
// container deployments) and a TOML file (for local/dev runs); both
// populate the same struct so callers can mix them (env as override).
package mtconfig

import (
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/carlmjohnson/versioninfo"
)

// AppConfig is the teacher's AppConfig (mtproto.go), with env/toml tags
// added for the loaders below.
type AppConfig struct {
	AppID          int32  `env:"MTCORE_APP_ID" toml:"app_id"`
	AppHash        string `env:"MTCORE_APP_HASH" toml:"app_hash"`
	AppVersion     string `env:"MTCORE_APP_VERSION" toml:"app_version"`
	DeviceModel    string `env:"MTCORE_DEVICE_MODEL" toml:"device_model"`
	SystemVersion  string `env:"MTCORE_SYSTEM_VERSION" toml:"system_version"`
	SystemLangCode string `env:"MTCORE_SYSTEM_LANG_CODE" toml:"system_lang_code"`
	LangPack       string `env:"MTCORE_LANG_PACK" toml:"lang_pack"`
	LangCode       string `env:"MTCORE_LANG_CODE" toml:"lang_code"`
}

// Default mirrors NewMTProto's inline AppConfig literal, stamping
// AppVersion from build info (carlmjohnson/versioninfo) instead of a
// hardcoded "0.0.1".
func Default(appID int32, appHash string) *AppConfig {
	return &AppConfig{
		AppID:          appID,
		AppHash:        appHash,
		AppVersion:     versioninfo.Short(),
		DeviceModel:    "Unknown",
		SystemVersion:  runtime.GOOS + "/" + runtime.GOARCH,
		SystemLangCode: "en",
		LangPack:       "",
		LangCode:       "en",
	}
}

// LoadFromEnv overlays environment variables (MTCORE_*) onto cfg using
// caarlos0/env, as the adred-codev-ws_poc example does for its server
// config.
func LoadFromEnv(cfg *AppConfig) error {
	return env.Parse(cfg)
}

// LoadFromTOML reads a TOML config file into cfg, as the
// xendarboh-katzenpost example does for its node configuration.
func LoadFromTOML(path string, cfg *AppConfig) error {
	_, err := toml.DecodeFile(path, cfg)
	return err
}

// SenderOptions are the knobs spec.md §4.4 exposes on connect/reconnect
// (retries, inter-attempt delay) plus the auto-reconnect toggle from
// §4.4.4 ("or forever if auto-reconnect is disabled, zero attempts
// instead" is read here as: Retries<=0 means "retry forever").
type SenderOptions struct {
	Retries           int    `env:"MTCORE_RETRIES" toml:"retries"`
	RetryDelayMillis  int    `env:"MTCORE_RETRY_DELAY_MS" toml:"retry_delay_ms"`
	AutoReconnect     bool   `env:"MTCORE_AUTO_RECONNECT" toml:"auto_reconnect"`
	UpdatesQueueSize  int    `env:"MTCORE_UPDATES_QUEUE_SIZE" toml:"updates_queue_size"`
	SessionPassphrase string `env:"MTCORE_SESSION_PASSPHRASE" toml:"-"`
}

func DefaultSenderOptions() SenderOptions {
	return SenderOptions{
		Retries:          5,
		RetryDelayMillis: 1000,
		AutoReconnect:    true,
		UpdatesQueueSize: 1000,
	}
}
