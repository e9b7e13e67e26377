package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR}} references in raw YAML content with the
// corresponding environment variable values. A reference to an unset
// variable is an error so misconfiguration fails loudly at startup rather
// than producing an empty API key at request time.
func ExpandEnv(content []byte) ([]byte, error) {
	tmpl, err := template.New("config").Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvExpand, err)
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvExpand, err)
	}
	return buf.Bytes(), nil
}
