package secrets

import (
	"context"
	"regexp"
	"sort"

	"github.com/sovrium/sovrium/pkg/schema"
)

// refPattern matches a credential value that is entirely a secret
// reference: ${{secrets.KEY}}.
var refPattern = regexp.MustCompile(`^\$\{\{\s*secrets\.([A-Za-z0-9_.-]+)\s*\}\}$`)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validKey(key string) bool { return keyPattern.MatchString(key) }

// SecretRef returns the key referenced by value, if value is a reference.
func SecretRef(value string) (string, bool) {
	m := refPattern.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// References lists the secret keys the connections refer to, sorted and
// without duplicates.
func References(conns []schema.Connection) []string {
	seen := map[string]bool{}
	var keys []string
	for _, c := range conns {
		for _, v := range c.Credentials {
			if key, ok := SecretRef(v); ok && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// ResolveConnections replaces every secret reference in the connections'
// credentials with the decrypted secret. A nil vault fails as soon as one
// reference is found. Credential maps are copied, never modified in place.
func ResolveConnections(ctx context.Context, v Vault, conns []schema.Connection) error {
	for i := range conns {
		c := &conns[i]
		var resolved map[string]string
		for name, value := range c.Credentials {
			key, ok := SecretRef(value)
			if !ok {
				continue
			}
			if v == nil {
				return schema.NewErrorf(schema.ErrCodeVault,
					"connection %s: credential %s references secret %s but no vault is configured", c.Name, name, key)
			}
			secret, err := v.Resolve(ctx, key)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeVault,
					"connection %s: resolve credential %s", c.Name, name).WithCause(err)
			}
			if resolved == nil {
				resolved = make(map[string]string, len(c.Credentials))
				for k, val := range c.Credentials {
					resolved[k] = val
				}
			}
			resolved[name] = string(secret)
		}
		if resolved != nil {
			c.Credentials = resolved
		}
	}
	return nil
}
