// Package config holds the worldmodel tuning and service configuration.
package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// DefaultConfigPath is the path to the canonical defaults file.
// This is the single source of truth for all default values.
const DefaultConfigPath = "config/worldmodel.defaults.json"

// EnvPrefix is prepended to every key when reading overrides from the
// environment, e.g. WORLDMODEL_FRAME_ID.
const EnvPrefix = "WORLDMODEL"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Every field is optional; the Get*
// accessors supply defaults for anything left unset, so partial files and
// runtime patches are safe. The JSON schema matches the /api/config
// endpoint so the same document can be used at startup and at runtime.
type Config struct {
	// Projection
	FrameID          *string  `json:"frame_id,omitempty" mapstructure:"frame_id"`
	ProjectObjects   *bool    `json:"project_objects,omitempty" mapstructure:"project_objects"`
	DefaultDistance  *float64 `json:"default_distance,omitempty" mapstructure:"default_distance"`
	DistanceVariance *float64 `json:"distance_variance,omitempty" mapstructure:"distance_variance"`
	AngleVariance    *float64 `json:"angle_variance,omitempty" mapstructure:"angle_variance"`
	MinHeight        *float64 `json:"min_height,omitempty" mapstructure:"min_height"`
	MaxHeight        *float64 `json:"max_height,omitempty" mapstructure:"max_height"`
	TransformWait    *string  `json:"transform_wait,omitempty" mapstructure:"transform_wait"` // duration string like "1s"
	RangingService   *string  `json:"ranging_service,omitempty" mapstructure:"ranging_service"`

	// Association and verification
	GatingDistanceSquared *float64 `json:"gating_distance_squared,omitempty" mapstructure:"gating_distance_squared"`
	ConfirmSupportBonus   *float64 `json:"confirm_support_bonus,omitempty" mapstructure:"confirm_support_bonus"`
	ConfirmSupport        *float64 `json:"confirm_support,omitempty" mapstructure:"confirm_support"`
	VerificationServices  []string `json:"verification_services,omitempty" mapstructure:"verification_services"`
	VerificationTimeout   *string  `json:"verification_timeout,omitempty" mapstructure:"verification_timeout"`

	// Cameras: frame id -> camera_info YAML path
	CameraCalibrations map[string]string `json:"camera_calibrations,omitempty" mapstructure:"camera_calibrations"`

	// Transform buffer and odometry decomposition
	CacheDuration     *string `json:"cache_duration,omitempty" mapstructure:"cache_duration"`
	OdometryFrameID   *string `json:"odometry_frame_id,omitempty" mapstructure:"odometry_frame_id"`
	FootprintFrameID  *string `json:"footprint_frame_id,omitempty" mapstructure:"footprint_frame_id"`
	StabilizedFrameID *string `json:"stabilized_frame_id,omitempty" mapstructure:"stabilized_frame_id"`
	ChildFrameID      *string `json:"child_frame_id,omitempty" mapstructure:"child_frame_id"`

	// Service
	HTTPListen   *string  `json:"http_listen,omitempty" mapstructure:"http_listen"`
	GRPCListen   *string  `json:"grpc_listen,omitempty" mapstructure:"grpc_listen"`
	UDPListen    *string  `json:"udp_listen,omitempty" mapstructure:"udp_listen"`
	UDPRateLimit *float64 `json:"udp_rate_limit,omitempty" mapstructure:"udp_rate_limit"` // percepts per second
	DBPath       *string  `json:"db_path,omitempty" mapstructure:"db_path"`
	LogLevel     *string  `json:"log_level,omitempty" mapstructure:"log_level"`
	LogFormat    *string  `json:"log_format,omitempty" mapstructure:"log_format"`
}

// keys lists every recognised option so environment overrides work even
// when the key is absent from the file.
var keys = []string{
	"frame_id", "project_objects", "default_distance", "distance_variance",
	"angle_variance", "min_height", "max_height", "transform_wait",
	"ranging_service", "gating_distance_squared", "confirm_support_bonus",
	"confirm_support", "verification_services", "verification_timeout",
	"cache_duration", "odometry_frame_id", "footprint_frame_id",
	"stabilized_frame_id", "child_frame_id", "http_listen", "grpc_listen",
	"udp_listen", "udp_rate_limit", "db_path", "log_level", "log_format",
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a configuration file (JSON, YAML or TOML, by extension) and
// applies WORLDMODEL_* environment overrides. An empty path loads from the
// environment only.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return fromViper(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, errors.Wrapf(err, "bind env for %s", k)
		}
	}

	if path == "" {
		return v, nil
	}

	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".json", ".yaml", ".yml", ".toml":
	default:
		return nil, errors.Newf("config file must be .json, .yaml or .toml, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat config file")
	}
	if fileInfo.Size() > maxFileSize {
		return nil, errors.Newf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	v.SetConfigFile(cleanPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", cleanPath)
	}
	return v, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := Empty()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/worldmodel/tracker/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.FrameID != nil && *c.FrameID == "" {
		return errors.New("frame_id must not be empty")
	}
	if c.DefaultDistance != nil && !(*c.DefaultDistance > 0) {
		return errors.Newf("default_distance must be positive, got %f", *c.DefaultDistance)
	}
	if c.DistanceVariance != nil && !(*c.DistanceVariance > 0) {
		return errors.Newf("distance_variance must be positive, got %f", *c.DistanceVariance)
	}
	if c.AngleVariance != nil && !(*c.AngleVariance > 0) {
		return errors.Newf("angle_variance must be positive, got %f", *c.AngleVariance)
	}
	if c.GetMinHeight() > c.GetMaxHeight() {
		return errors.Newf("min_height %f exceeds max_height %f", c.GetMinHeight(), c.GetMaxHeight())
	}
	if c.GatingDistanceSquared != nil && !(*c.GatingDistanceSquared > 0) {
		return errors.Newf("gating_distance_squared must be positive, got %f", *c.GatingDistanceSquared)
	}
	if c.ConfirmSupport != nil && *c.ConfirmSupport < 0 {
		return errors.Newf("confirm_support must be non-negative, got %f", *c.ConfirmSupport)
	}
	if c.UDPRateLimit != nil && *c.UDPRateLimit < 0 {
		return errors.Newf("udp_rate_limit must be non-negative, got %f", *c.UDPRateLimit)
	}
	for name, d := range map[string]*string{
		"transform_wait":       c.TransformWait,
		"verification_timeout": c.VerificationTimeout,
		"cache_duration":       c.CacheDuration,
	} {
		if d == nil || *d == "" {
			continue
		}
		if _, err := time.ParseDuration(*d); err != nil {
			return errors.Wrapf(err, "invalid %s '%s'", name, *d)
		}
	}
	for _, s := range c.VerificationServices {
		if strings.TrimSpace(s) == "" {
			return errors.New("verification_services must not contain empty names")
		}
	}
	return nil
}

// Clone returns a deep copy, so a runtime patch cannot alias the original.
func (c *Config) Clone() *Config {
	out := *c
	out.VerificationServices = append([]string(nil), c.VerificationServices...)
	if c.CameraCalibrations != nil {
		out.CameraCalibrations = make(map[string]string, len(c.CameraCalibrations))
		for k, v := range c.CameraCalibrations {
			out.CameraCalibrations[k] = v
		}
	}
	return &out
}

func stringOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetFrameID returns the global reference frame id.
func (c *Config) GetFrameID() string {
	if c.FrameID == nil || *c.FrameID == "" {
		return "map"
	}
	return *c.FrameID
}

// GetProjectObjects reports whether percepts are snapped to the nearest obstacle.
func (c *Config) GetProjectObjects() bool {
	if c.ProjectObjects == nil {
		return false
	}
	return *c.ProjectObjects
}

// GetDefaultDistance returns the assumed range for bearing-only percepts.
func (c *Config) GetDefaultDistance() float64 { return floatOr(c.DefaultDistance, 1.0) }

// GetDistanceVariance returns the default variance along the bearing axis.
func (c *Config) GetDistanceVariance() float64 { return floatOr(c.DistanceVariance, 1.0) }

// GetAngleVariance returns the default angular variance in rad².
func (c *Config) GetAngleVariance() float64 { return floatOr(c.AngleVariance, 5.0*math.Pi/180.0) }

// GetMinHeight returns the lower bound of the valid height band.
func (c *Config) GetMinHeight() float64 { return floatOr(c.MinHeight, -999.9) }

// GetMaxHeight returns the upper bound of the valid height band.
func (c *Config) GetMaxHeight() float64 { return floatOr(c.MaxHeight, 999.9) }

// GetTransformWait returns how long a frame lookup may block.
func (c *Config) GetTransformWait() time.Duration { return durationOr(c.TransformWait, time.Second) }

// GetRangingService returns the ranging gRPC target, empty when none is configured.
func (c *Config) GetRangingService() string { return stringOr(c.RangingService, "") }

// GetGatingDistanceSquared returns the association gate in squared Mahalanobis units.
func (c *Config) GetGatingDistanceSquared() float64 { return floatOr(c.GatingDistanceSquared, 1.0) }

// GetConfirmSupportBonus returns the support added by a CONFIRM verification.
func (c *Config) GetConfirmSupportBonus() float64 { return floatOr(c.ConfirmSupportBonus, 100.0) }

// GetConfirmSupport returns the support at which pending objects are
// promoted to confirmed. Zero disables promotion.
func (c *Config) GetConfirmSupport() float64 { return floatOr(c.ConfirmSupport, 0) }

// GetVerificationServices returns the verification service targets in call order.
func (c *Config) GetVerificationServices() []string {
	return append([]string(nil), c.VerificationServices...)
}

// GetVerificationTimeout bounds each verification call.
func (c *Config) GetVerificationTimeout() time.Duration {
	return durationOr(c.VerificationTimeout, 2*time.Second)
}

// GetCameraCalibrations returns the static calibration files by frame id.
func (c *Config) GetCameraCalibrations() map[string]string {
	out := make(map[string]string, len(c.CameraCalibrations))
	for k, v := range c.CameraCalibrations {
		out[k] = v
	}
	return out
}

// GetCacheDuration returns how long transform samples are kept.
func (c *Config) GetCacheDuration() time.Duration {
	return durationOr(c.CacheDuration, 10*time.Second)
}

// GetOdometryFrameID overrides the parent frame of published odometry.
// Empty means the header frame is used.
func (c *Config) GetOdometryFrameID() string { return stringOr(c.OdometryFrameID, "") }

// GetFootprintFrameID returns the footprint frame, empty to skip it.
func (c *Config) GetFootprintFrameID() string { return stringOr(c.FootprintFrameID, "base_footprint") }

// GetStabilizedFrameID returns the stabilized frame, empty to skip it.
func (c *Config) GetStabilizedFrameID() string {
	return stringOr(c.StabilizedFrameID, "base_stabilized")
}

// GetChildFrameID returns the body frame odometry is published for.
func (c *Config) GetChildFrameID() string {
	if c.ChildFrameID == nil || *c.ChildFrameID == "" {
		return "base_link"
	}
	return *c.ChildFrameID
}

// GetHTTPListen returns the HTTP listen address, empty to disable.
func (c *Config) GetHTTPListen() string { return stringOr(c.HTTPListen, ":8090") }

// GetGRPCListen returns the gRPC listen address, empty to disable.
func (c *Config) GetGRPCListen() string { return stringOr(c.GRPCListen, ":8091") }

// GetUDPListen returns the UDP percept listen address, empty to disable.
func (c *Config) GetUDPListen() string { return stringOr(c.UDPListen, ":8092") }

// GetUDPRateLimit returns the accepted UDP percepts per second. Zero means unlimited.
func (c *Config) GetUDPRateLimit() float64 { return floatOr(c.UDPRateLimit, 200) }

// GetDBPath returns the recorder database path, empty to disable recording.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "worldmodel.db") }

// GetLogLevel returns the zap level name.
func (c *Config) GetLogLevel() string { return stringOr(c.LogLevel, "info") }

// GetLogFormat returns "json" or "console".
func (c *Config) GetLogFormat() string { return stringOr(c.LogFormat, "console") }
