// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hippocamp/matrix-actions/lib/ref"
)

// Environment variables recognized by the bridge.
const (
	EnvHomeserver     = "MATRIX_HOMESERVER"
	EnvUserID         = "MATRIX_USER_ID"
	EnvPassword       = "MATRIX_PASSWORD"
	EnvDeviceID       = "MATRIX_DEVICE_ID"
	EnvDeviceName     = "MATRIX_DEVICE_NAME"
	EnvSessionStore   = "MATRIX_SESSION_STORE"
	EnvOPPasswordPath = "OP_MATRIX_PASSWORD_PATH"
	EnvOPCLIPath      = "OP_CLI_PATH"
	EnvAllowedOrigins = "ALLOWED_ORIGINS"
	EnvPort           = "PORT"
)

// Settings is the immutable bridge configuration, built once at startup.
type Settings struct {
	Homeserver     string
	UserID         ref.UserID
	DeviceID       string
	DeviceName     string
	SessionStore   string
	OPPasswordPath string
	OPCLIPath      string
	AllowedOrigins []string
	Port           int
}

// settingsFile is the optional YAML layer under the environment.
type settingsFile struct {
	Homeserver     string   `yaml:"homeserver"`
	UserID         string   `yaml:"user_id"`
	DeviceID       string   `yaml:"device_id"`
	DeviceName     string   `yaml:"device_name"`
	SessionStore   string   `yaml:"session_store"`
	OPPasswordPath string   `yaml:"op_password_path"`
	OPCLIPath      string   `yaml:"op_cli_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Port           int      `yaml:"port"`
}

// LoadSettings builds Settings from the environment, layered over the
// optional YAML file at configPath (empty means no file). Environment
// variables always win over file values. The mandatory bot user ID is
// validated here so the process fails before binding a listener, and
// the session store directory is created if absent.
func LoadSettings(configPath string) (*Settings, error) {
	var file settingsFile
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, Errorf(CategoryConfig, "reading config file: %v", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, Errorf(CategoryConfig, "parsing config file %s: %v", configPath, err)
		}
	}

	settings := &Settings{
		Homeserver:     layered(EnvHomeserver, file.Homeserver, "https://matrix.hippocamp.ai"),
		DeviceID:       layered(EnvDeviceID, file.DeviceID, "GABE_ACTIONS_DEVICE"),
		DeviceName:     layered(EnvDeviceName, file.DeviceName, "Gabe Matrix Actions Bridge"),
		SessionStore:   layered(EnvSessionStore, file.SessionStore, ".matrix-store"),
		OPPasswordPath: layered(EnvOPPasswordPath, file.OPPasswordPath, ""),
		OPCLIPath:      layered(EnvOPCLIPath, file.OPCLIPath, "op"),
	}
	settings.Homeserver = strings.TrimRight(settings.Homeserver, "/")

	rawUserID := layered(EnvUserID, file.UserID, "")
	if rawUserID == "" {
		return nil, Errorf(CategoryConfig, "%s is required", EnvUserID)
	}
	userID, err := ref.ParseUserID(rawUserID)
	if err != nil {
		return nil, Errorf(CategoryConfig, "%s: %v", EnvUserID, err)
	}
	settings.UserID = userID

	settings.AllowedOrigins = file.AllowedOrigins
	if raw := os.Getenv(EnvAllowedOrigins); raw != "" {
		settings.AllowedOrigins = splitOrigins(raw)
	}
	if len(settings.AllowedOrigins) == 0 {
		settings.AllowedOrigins = []string{"*"}
	}

	settings.Port = file.Port
	if raw := os.Getenv(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, Errorf(CategoryConfig, "%s: %q is not a number", EnvPort, raw)
		}
		settings.Port = port
	}
	if settings.Port == 0 {
		settings.Port = 8080
	}
	if settings.Port < 1 || settings.Port > 65535 {
		return nil, Errorf(CategoryConfig, "port %d out of range", settings.Port)
	}

	if err := os.MkdirAll(settings.SessionStore, 0o700); err != nil {
		return nil, Errorf(CategoryConfig, "creating session store %s: %v", settings.SessionStore, err)
	}

	return settings, nil
}

// ListenAddress returns the TCP address derived from Port.
func (s *Settings) ListenAddress() string {
	return fmt.Sprintf(":%d", s.Port)
}

// layered resolves one string setting: environment first, then the
// config file, then the built-in default.
func layered(envName, fileValue, defaultValue string) string {
	if value := os.Getenv(envName); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
