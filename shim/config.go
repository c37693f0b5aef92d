package shim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/MarcinKonowalczyk/brainfuck/bf"
	"github.com/containerd/errdefs"
)

const configFilename = "config.json"

// Accepted entry point extensions
var sourceExtensions = []string{".bf", ".b", ".brainfuck"}

// Subset of the OCI runtime spec the shim cares about
type ociSpec struct {
	Root struct {
		Path string `json:"path"`
	} `json:"root"`
	Process struct {
		Args []string `json:"args"`
	} `json:"process"`
}

type Config struct {
	Root       string // rootfs of the container
	Entrypoint string // program, relative to Root
	Length     int    // number of opcodes in the program
}

// ReadConfig reads the bundle's config.json and checks that its single
// argument is a brainfuck program which parses. Malformed programs are
// rejected here, before any process is started.
func ReadConfig(bundle string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(bundle, configFilename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", configFilename, errdefs.ErrNotFound)
		}
		return nil, err
	}

	var spec ociSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w: %w", configFilename, errdefs.ErrInvalidArgument, err)
	}

	if spec.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in %s: %w", configFilename, errdefs.ErrInvalidArgument)
	}

	if len(spec.Process.Args) != 1 {
		return nil, fmt.Errorf("expected exactly 1 arg in the CMD, got %d: %w", len(spec.Process.Args), errdefs.ErrInvalidArgument)
	}

	entrypoint := spec.Process.Args[0]
	if !slices.Contains(sourceExtensions, filepath.Ext(entrypoint)) {
		return nil, fmt.Errorf("entry point %s is not a brainfuck file: %w", entrypoint, errdefs.ErrInvalidArgument)
	}

	root := spec.Root.Path
	if !filepath.IsAbs(root) {
		root = filepath.Join(bundle, root)
	}

	f, err := bf.OpenSource(filepath.Join(root, entrypoint))
	if err != nil {
		return nil, fmt.Errorf("entry point %s: %w", entrypoint, err)
	}
	defer f.Close()

	program, err := bf.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("entry point %s: %w", entrypoint, err)
	}

	return &Config{
		Root:       root,
		Entrypoint: entrypoint,
		Length:     len(program),
	}, nil
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}
