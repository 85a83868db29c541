package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File formats, named by their usual extension.
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}

// decode parses b into v, rejecting keys v does not define.
func decode(b []byte, format string, v interface{}) error {
	switch format {
	case FormatTOML:
		md, err := toml.Decode(string(b), v)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil {
			return err
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: unknown format %q", format)
	}
	return nil
}

func encode(v interface{}, format string) ([]byte, error) {
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}
}

// LoadClient parses and validates the provided buffer b as a client config
// body in the given format.
func LoadClient(b []byte, format string) (*Client, error) {
	cfg := new(Client)
	if err := decode(b, format, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer parses and validates the provided buffer b as a server config
// body in the given format.
func LoadServer(b []byte, format string) (*Server, error) {
	cfg := new(Server)
	if err := decode(b, format, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClientFile loads, parses and validates the provided file and returns
// the Client config.
func LoadClientFile(f string) (*Client, error) {
	format, err := FormatOf(f)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return LoadClient(b, format)
}

// LoadServerFile loads, parses and validates the provided file and returns
// the Server config.
func LoadServerFile(f string) (*Server, error) {
	format, err := FormatOf(f)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return LoadServer(b, format)
}

// WriteFile writes v to path in the format implied by its extension. The
// file holds the key, so it is created readable by the owner only.
func WriteFile(path string, v interface{}) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	b, err := encode(v, format)
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return os.WriteFile(path, b, 0o600)
}
