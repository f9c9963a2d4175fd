package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/runerrors"
)

// ClusterEntry is one raw cluster record from the configuration source.
// Name and the hostname pattern are pulled out; every other key stays in
// Settings and is merged with the shared defaults during resolution.
type ClusterEntry struct {
	Name            string         `mapstructure:"name"`
	HostnamePattern string         `mapstructure:"hostname_pattern"`
	Settings        map[string]any `mapstructure:",remain"`
}

// ClustersFile is the parsed clusters.yaml: shared defaults plus an ordered
// list of cluster entries. Order matters, first hostname match wins.
type ClustersFile struct {
	Shared   map[string]any `mapstructure:"shared,omitempty"`
	Clusters []ClusterEntry `mapstructure:"clusters"`

	// File the config was read from, kept for error reporting.
	File string `mapstructure:"-"`
}

// readConfig locates and reads a configuration file using Viper. It searches for
// a file named "{name}.{ext}" in each of the given directories in order; the first
// found file is read. The returned Viper instance contains the parsed config and
// can be used for further unmarshaling.
//
// Parameters:
//   - logger: Logger for config load messages (success and failure).
//   - name: Config file base name without extension (e.g., "clusters").
//   - ext: Config file extension/type (e.g., "yaml"); used by Viper as config type.
//   - dirs: One or more directories to search for the file; first match wins.
//
// Returns:
//   - *viper.Viper: Viper instance with the config loaded.
//   - error: Non-nil if no config file was found in any dir or if reading failed.
func readConfig(logger *slog.Logger, name string, ext string, dirs ...string) (*viper.Viper, error) {
	logger.Debug("Reading the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs))

	configValues := viper.New()

	configValues.SetConfigName(name) // name of config file (without extension)
	configValues.SetConfigType(ext)  // REQUIRED if the config file does not have the extension in the name
	for _, dir := range dirs {
		configValues.AddConfigPath(dir)
	}
	err := configValues.ReadInConfig() // Find and read the config file

	if err != nil {
		logger.Error("Failed to read the configuration file", "file", fmt.Sprintf("%s.%s", name, ext), "dirs", fmt.Sprintf("%v", dirs), "error", err.Error())
	} else {
		logger.Debug("Read the configuration file", "file", configValues.ConfigFileUsed())
	}

	return configValues, err
}

// LoadClusters loads the cluster configuration source. When path is non-empty
// it names the exact file to read; otherwise "clusters.yaml" is searched in
// the usual config directories. The raw document is validated against the
// embedded JSON schema before unmarshaling so structural mistakes fail with
// a pointed message instead of a zero-valued profile.
func LoadClusters(logger *slog.Logger, path string) (*ClustersFile, error) {
	var configValues *viper.Viper
	var err error
	if path != "" {
		dir, file := filepath.Split(path)
		if dir == "" {
			dir = "."
		}
		ext := filepath.Ext(file)
		if ext == "" {
			// Viper derives the format from the extension
			return nil, runerrors.New(messages.ClusterConfigInvalid,
				"File", path, "Error", "the file name carries no extension to derive the format from")
		}
		name := strings.TrimSuffix(file, ext)
		configValues, err = readConfig(logger, name, ext[1:], dir)
	} else {
		configValues, err = readConfig(logger, "clusters", "yaml", "config", "./config", "../../config")
	}
	if err != nil {
		return nil, err
	}

	raw := configValues.AllSettings()
	if err := validateClustersDocument(raw); err != nil {
		return nil, fmt.Errorf("cluster configuration %s: %w", configValues.ConfigFileUsed(), err)
	}

	clusters := ClustersFile{}
	if err := mapstructure.Decode(raw, &clusters); err != nil {
		return nil, err
	}
	clusters.File = configValues.ConfigFileUsed()
	return &clusters, nil
}
