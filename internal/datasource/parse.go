package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

var (
	envPattern = regexp.MustCompile(`\{env:([A-Za-z_][A-Za-z0-9_]*)\}`)
	jsExport   = regexp.MustCompile(`^\s*(?:module\.exports|exports)\s*=\s*|^\s*export\s+default\s+`)
)

// Parse decodes a project config file by extension. The document must be a
// mapping; an empty document is an empty config.
func Parse(ext string, data []byte) (map[string]interface{}, error) {
	data = interpolate(data)

	var config map[string]interface{}
	switch ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
	case ".json":
		data = jsonc.ToJSON(data)
		if len(bytes.TrimSpace(data)) == 0 {
			break
		}
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
	case ".js":
		literal, err := objectLiteral(data)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(literal, &config); err != nil {
			return nil, fmt.Errorf("invalid object literal: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}

	if config == nil {
		config = map[string]interface{}{}
	}
	return config, nil
}

// objectLiteral extracts the exported object of a CommonJS or ES module
// config file in a form a YAML flow mapping parser accepts.
func objectLiteral(data []byte) ([]byte, error) {
	src := doubleQuote(string(data))
	src = string(jsonc.ToJSON([]byte(src)))
	src = jsExport.ReplaceAllString(strings.TrimSpace(src), "")
	src = strings.TrimSpace(src)
	src = strings.TrimSuffix(src, ";")

	if !strings.HasPrefix(src, "{") || !strings.HasSuffix(src, "}") {
		return nil, fmt.Errorf("config must export an object literal")
	}
	return []byte(src), nil
}

// doubleQuote rewrites single-quoted and template strings as double-quoted
// ones so comment stripping leaves their contents alone. Comments are copied
// through untouched.
func doubleQuote(src string) string {
	var out strings.Builder
	out.Grow(len(src))

	var quote byte
	escaped := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote == 0 {
			switch {
			case c == '\'' || c == '`' || c == '"':
				quote = c
				out.WriteByte('"')
			case strings.HasPrefix(src[i:], "//"):
				end := strings.IndexByte(src[i:], '\n')
				if end < 0 {
					end = len(src) - i
				}
				out.WriteString(src[i : i+end])
				i += end - 1
			case strings.HasPrefix(src[i:], "/*"):
				end := strings.Index(src[i+2:], "*/")
				if end < 0 {
					end = len(src) - i - 2
				} else {
					end += 2
				}
				out.WriteString(src[i : i+2+end])
				i += 2 + end - 1
			default:
				out.WriteByte(c)
			}
			continue
		}

		switch {
		case escaped:
			escaped = false
			if c != '\'' && c != '`' {
				out.WriteByte('\\')
			}
			out.WriteByte(c)
		case c == '\\':
			escaped = true
		case c == quote:
			quote = 0
			out.WriteByte('"')
		case c == '"':
			out.WriteString(`\"`)
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

func interpolate(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
