package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/v2"
)

const fileURIPrefix = "file://"

// fileRefProvider re-reads the already loaded config and replaces every
// "file://<path>" string with the trimmed contents of <path>. This lets the
// broker domain come from a mounted secret.
type fileRefProvider struct {
	k *koanf.Koanf
}

// Read implements koanf.Provider.
func (p *fileRefProvider) Read() (map[string]any, error) {
	return resolveFileRefs(p.k.Raw())
}

// ReadBytes is not supported for this provider.
func (p *fileRefProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: ReadBytes not supported")
}

func resolveFileRefs(m map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(m))
	for key, val := range m {
		switch v := val.(type) {
		case string:
			if !strings.HasPrefix(v, fileURIPrefix) {
				result[key] = v
				continue
			}
			path := strings.TrimPrefix(v, fileURIPrefix)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", key, err)
			}
			result[key] = strings.TrimSpace(string(data))
		case map[string]any:
			nested, err := resolveFileRefs(v)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", key, err)
			}
			result[key] = nested
		default:
			result[key] = v
		}
	}
	return result, nil
}
