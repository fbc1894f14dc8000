// Package config resolves the flat environment contract of the migration
// analyzer deployment: process environment over .env file over
// firebase-config.json overlay over schema defaults. Loading either
// produces an immutable Resolved snapshot or fails naming every missing
// required key.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	kerrors "github.com/dbmigration/keeper/internal/errors"
)

// FileSystem interface for file operations (useful for testing).
type FileSystem interface {
	Exists(path string) bool
	ReadEnv(path string) (map[string]string, error)
	ReadFile(path string) ([]byte, error)
	Getenv(key string) (string, bool)
	Home() string
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (rfs *RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (rfs *RealFileSystem) ReadEnv(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

func (rfs *RealFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (rfs *RealFileSystem) Getenv(key string) (string, bool) {
	return os.LookupEnv(key)
}

func (rfs *RealFileSystem) Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// LoaderConfig holds dependencies and optional file overrides.
type LoaderConfig struct {
	FileSystem   FileSystem
	EnvFile      string // Direct .env file path (optional)
	FirebaseFile string // Direct firebase-config.json path (optional)
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithFirebaseFile sets an explicit firebase-config.json path.
func WithFirebaseFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.FirebaseFile = path }
}

// firebaseKeyMapping maps firebase-config.json fields to environment keys.
var firebaseKeyMapping = map[string]string{
	"project_id":  KeyFirebaseProjectID,
	"web_api_key": KeyFirebaseWebAPIKey,
}

// Load resolves the full schema and returns an immutable snapshot.
// Every required key that is absent or empty across all sources is
// collected into a single MissingRequiredKey error.
func Load(opts ...LoaderOption) (*Resolved, error) {
	resolved, missing, err := load(opts...)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, kerrors.MissingRequiredKey(missing)
	}
	return resolved, nil
}

// load resolves the schema and returns the snapshot together with the
// sorted list of missing required keys, so callers like Check can still
// see what did resolve.
func load(opts ...LoaderOption) (*Resolved, []string, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}
	fs := lc.FileSystem

	fileValues, envPath, err := loadEnvFile(fs, lc.EnvFile)
	if err != nil {
		return nil, nil, err
	}

	overlay, err := loadFirebaseOverlay(fs, lc.FirebaseFile)
	if err != nil {
		return nil, nil, err
	}

	values := make(map[string]string)
	var missing []string
	for _, entry := range Schema() {
		value, ok := resolveEntry(fs, entry, fileValues, overlay)
		if entry.Required && (!ok || value == "") {
			missing = append(missing, entry.Key)
			continue
		}
		values[entry.Key] = value
	}

	sort.Strings(missing)
	return newResolved(values, envPath), missing, nil
}

// resolveEntry applies the precedence chain for one entry.
func resolveEntry(fs FileSystem, entry Entry, fileValues, overlay map[string]string) (string, bool) {
	if v, ok := fs.Getenv(entry.Key); ok && sanitizeValue(v) != "" {
		return sanitizeValue(v), true
	}
	if v, ok := fileValues[entry.Key]; ok && sanitizeValue(v) != "" {
		return sanitizeValue(v), true
	}
	if v, ok := overlay[entry.Key]; ok && v != "" {
		return v, true
	}
	if entry.Default != "" {
		return entry.Default, true
	}
	return "", false
}

// loadEnvFile finds and parses the .env file, if any.
// Returns the parsed values and the path that was used.
func loadEnvFile(fs FileSystem, explicit string) (map[string]string, string, error) {
	path := explicit
	if path == "" {
		path = findFirst(fs, envSearchPaths(fs))
	}
	if path == "" {
		return nil, "", nil
	}
	if !fs.Exists(path) {
		return nil, "", fmt.Errorf("config: env file %s does not exist", path)
	}
	values, err := fs.ReadEnv(path)
	if err != nil {
		return nil, "", fmt.Errorf("config: parse env file %s: %w", path, err)
	}
	return values, path, nil
}

// loadFirebaseOverlay reads firebase-config.json and maps its fields
// onto FIREBASE_* keys. A missing file is not an error.
func loadFirebaseOverlay(fs FileSystem, explicit string) (map[string]string, error) {
	path := explicit
	if path == "" {
		path = findFirst(fs, firebaseSearchPaths(fs))
	}
	if path == "" {
		return nil, nil
	}
	if !fs.Exists(path) {
		return nil, fmt.Errorf("config: firebase config %s does not exist", path)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read firebase config %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("config: parse firebase config %s: %w", path, err)
	}

	overlay := make(map[string]string)
	for field, key := range firebaseKeyMapping {
		if s := v.GetString(field); s != "" {
			overlay[key] = s
		}
	}
	return overlay, nil
}

// envSearchPaths lists .env locations in search order, matching the
// deployment layout of the analyzer.
func envSearchPaths(fs FileSystem) []string {
	paths := []string{
		".env",
		"/etc/dbmigration/.env",
	}
	if home := fs.Home(); home != "" {
		paths = append(paths, filepath.Join(home, ".dbmigration", ".env"))
	}
	return append(paths, "/opt/dbmigration/.env")
}

// firebaseSearchPaths lists firebase-config.json locations in search order.
func firebaseSearchPaths(fs FileSystem) []string {
	paths := []string{
		"firebase-config.json",
		"/etc/dbmigration/firebase-config.json",
	}
	if home := fs.Home(); home != "" {
		paths = append(paths, filepath.Join(home, ".dbmigration", "firebase-config.json"))
	}
	return append(paths, "/opt/dbmigration/firebase-config.json")
}

func findFirst(fs FileSystem, paths []string) string {
	for _, p := range paths {
		if fs.Exists(p) {
			return p
		}
	}
	return ""
}

// CheckStatus summarizes which configuration sections are usable.
// Mirrors the deployment's configuration status report.
type CheckStatus struct {
	AnthropicAPI bool `json:"anthropic_api"`
	Admin        bool `json:"admin"`
	Firebase     bool `json:"firebase"`
	AWSRegion    bool `json:"aws_region"`
}

// Check loads configuration without failing on missing required keys and
// reports which sections are complete. Optional sections reflect what
// actually resolved even when a required key elsewhere is absent.
func Check(opts ...LoaderOption) CheckStatus {
	resolved, _, err := load(opts...)
	if err != nil {
		return CheckStatus{}
	}
	return CheckStatus{
		AnthropicAPI: resolved.Get(KeyAnthropicAPIKey) != "",
		Admin:        resolved.Get(KeyAdminEmail) != "" && resolved.Get(KeyAdminPassword) != "",
		Firebase:     resolved.Get(KeyFirebaseProjectID) != "",
		AWSRegion:    resolved.Get(KeyAWSRegion) != "",
	}
}

// sanitizeValue strips surrounding quotes and whitespace from an env value.
func sanitizeValue(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}
