package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// SecretProvider resolves secret references of the form
// secretref:<provider>:<ref>. Implementations must not log values.
type SecretProvider interface {
	Name() string
	Resolve(ctx context.Context, ref string) (string, error)
}

const secretRefPrefix = "secretref:"

var (
	envRefPattern    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	inlineRefPattern = regexp.MustCompile(`secretref:([^:\s@/]+):([^\s@]+)`)
)

// expandEnv expands ${VAR} and $VAR, failing on any ${VAR} that is unset.
// $$ is a literal dollar.
func expandEnv(s string) (string, error) {
	const dollar = "\x00CALLGATE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range envRefPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok && !seen[m[1]] {
			seen[m[1]] = true
			missing = append(missing, m[1])
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}

	return strings.ReplaceAll(os.ExpandEnv(s), dollar, "$"), nil
}

// resolveSecret expands the environment in value, then replaces a whole
// secretref value or every inline reference with the provider's answer.
func resolveSecret(ctx context.Context, value string, providers map[string]SecretProvider) (string, error) {
	expanded, err := expandEnv(value)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(expanded, secretRefPrefix) {
		name, ref, ok := strings.Cut(strings.TrimPrefix(expanded, secretRefPrefix), ":")
		if !ok || name == "" || ref == "" {
			return "", errors.New("malformed secret reference")
		}
		return lookupSecret(ctx, providers, name, ref)
	}

	matches := inlineRefPattern.FindAllStringSubmatchIndex(expanded, -1)
	out := expanded
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		secret, err := lookupSecret(ctx, providers, out[m[2]:m[3]], out[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		out = out[:m[0]] + secret + out[m[1]:]
	}
	return out, nil
}

func lookupSecret(ctx context.Context, providers map[string]SecretProvider, name, ref string) (string, error) {
	p, ok := providers[name]
	if !ok {
		return "", fmt.Errorf("secret provider %q is not registered", name)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("secret provider %q: %w", name, err)
	}
	if v == "" {
		return "", fmt.Errorf("secret provider %q returned an empty value", name)
	}
	return v, nil
}

// ResolveSecrets expands environment and secret references in the fields
// that carry credentials.
func (c *Config) ResolveSecrets(ctx context.Context, providers ...SecretProvider) error {
	byName := make(map[string]SecretProvider, len(providers))
	for _, p := range providers {
		if p != nil {
			byName[p.Name()] = p
		}
	}

	if c.Cache.RedisURL == "" {
		return nil
	}
	url, err := resolveSecret(ctx, c.Cache.RedisURL, byName)
	if err != nil {
		return fmt.Errorf("config: cache.redis_url: %w", err)
	}
	c.Cache.RedisURL = url
	return nil
}
