package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".kdstub"
	configFile string = "config.yml"
)

// TransportConfig holds the defaults for the link to the remote debugger.
// Command line flags take precedence over these values.
type TransportConfig struct {
	// Kind is one of serial, tcp, pty or stdio.
	Kind string `yaml:"kind,omitempty"`
	// Device is the serial device used by the serial transport.
	Device string `yaml:"device,omitempty"`
	// Baud is the speed of the serial line.
	Baud int `yaml:"baud,omitempty"`
	// Listen is the address the tcp transport accepts connections on.
	Listen string `yaml:"listen,omitempty"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	Transport TransportConfig `yaml:"transport"`

	// Snapshot is the machine snapshot loaded when none is given on the
	// command line.
	Snapshot string `yaml:"snapshot,omitempty"`
	// Image is the kernel image loaded when none is given on the command
	// line.
	Image string `yaml:"image,omitempty"`
	// ImageBase is the address Image is relocated to, zero to load it at
	// its link address.
	ImageBase uint64 `yaml:"image-base,omitempty"`

	// DisassembleCount is the default number of instructions printed by
	// disasm.
	DisassembleCount *int `yaml:"disassemble-count,omitempty"`

	// SymbolCacheSize is the number of address to symbol lookups the
	// monitor remembers.
	SymbolCacheSize int `yaml:"symbol-cache-size,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}
	c, err := loadConfigFile(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

func loadConfigFile(fullConfigFile string) (*Config, error) {
	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return nil, fmt.Errorf("Error creating default config file: %v", err)
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("Unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("Unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigFile(fullConfigFile, conf)
}

func saveConfigFile(fullConfigFile string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for kdstub.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Link used to talk to the remote debugger when no --transport flag is given.
transport:
  # kind: serial
  # device: /dev/ttyS0
  # baud: 115200
  # listen: 127.0.0.1:2345

# Machine snapshot and kernel image loaded at startup.
# snapshot: /path/to/snapshot.yml
# image: /path/to/kernel
# image-base: 0

# Number of instructions printed by disasm when no count is given.
# disassemble-count: 10

# Number of symbol lookups remembered by the monitor.
# symbol-cache-size: 256
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
