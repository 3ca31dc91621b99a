// Package tablename derives table names from logical entity tags.
//
// Callers that name their entities with a shared object-name prefix
// ("HRDocument", "HRChunk", ...) get a stable table name by stripping the
// prefix. The mapping is a static naming convention, not reflection; a tag
// that does not follow the convention is rejected with an error.
package tablename

import "fmt"

// Mapper maps entity tags carrying a fixed prefix to table names.
type Mapper struct {
	prefix string
}

// New creates a Mapper for the given object-name prefix. An empty prefix is
// allowed; tags then map to themselves (still convention-checked).
func New(prefix string) *Mapper {
	return &Mapper{prefix: prefix}
}

// TableFor maps tag to its table name by stripping the prefix. The remainder
// must be a plain identifier: a letter followed by letters, digits or
// underscores.
func (m *Mapper) TableFor(tag string) (string, error) {
	if len(tag) <= len(m.prefix) || tag[:len(m.prefix)] != m.prefix {
		return "", fmt.Errorf("tablename: tag %q lacks prefix %q", tag, m.prefix)
	}
	name := tag[len(m.prefix):]
	if !identifier(name) {
		return "", fmt.Errorf("tablename: tag %q maps to invalid table name %q", tag, name)
	}
	return name, nil
}

func identifier(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}
