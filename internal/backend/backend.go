// Package backend selects the neural runtime that executes the shards.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/shardchat/internal/metadata"
	"github.com/samcharles93/shardchat/internal/shard"
)

const (
	ORT  = "ort"
	Toy  = "toy"
	Auto = "auto"
)

// LoadOptions describes the model to load.
type LoadOptions struct {
	Paths metadata.Paths
	Meta  metadata.Metadata
	// Vocab is the tokenizer vocabulary size, used by the toy runtime.
	Vocab int
	// LibraryPath points at the ONNX Runtime shared library.
	LibraryPath string
	Threads     int
}

type Backend interface {
	Name() string
	// Inspect returns key/value metadata embedded in a shard.
	Inspect(path string) (map[string]string, error)
	// Load opens every shard. Failures are *shard.ModelLoadError.
	Load(opts LoadOptions) (*shard.Set, error)
}

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case ORT, Toy, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, ort, or toy)", backend)
	}
}

// New returns the named backend. auto selects ort when it is compiled in.
func New(name string) (Backend, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch name {
	case Toy:
		return toyBackend{}, nil
	case ORT:
		return newORT()
	default:
		if ortEnabled {
			return newORT()
		}
		return nil, fmt.Errorf("no runtime backend in this build (rebuild with -tags ort, or use --backend toy)")
	}
}

// Has reports whether the named backend is compiled in.
func Has(name string) bool {
	switch name {
	case Toy:
		return true
	case ORT:
		return ortEnabled
	default:
		return false
	}
}

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Toy}
	if Has(ORT) {
		entries = append([]string{ORT}, entries...)
	}
	return strings.Join(entries, ",")
}
