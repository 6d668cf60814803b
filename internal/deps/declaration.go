// Package deps installs third-party npm packages into a session workspace.
package deps

import (
	"regexp"
	"strings"

	"github.com/sakif/tsbox/internal/apperror"
)

// DefaultVersion is used when a declaration carries no version token.
const DefaultVersion = "latest"

// namePattern is the allowlist every package literal must match:
// an optional @scope/, a package name, an optional @version token.
// Whitespace, quotes and shell metacharacters (; & | $ ` > < ( )) never match.
var namePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-zA-Z0-9][a-zA-Z0-9._-]*(@[a-zA-Z0-9._^~*+-]+)?$`)

// Declaration is one requested package.
type Declaration struct {
	Name    string
	Version string
}

// String renders the declaration the way npm accepts it.
func (d Declaration) String() string {
	return d.Name + "@" + d.Version
}

// ParseDeclaration validates and normalises one package literal:
//
//	"lodash"            → {lodash, latest}
//	"lodash@4.17.21"    → {lodash, 4.17.21}
//	"@types/node@20"    → {@types/node, 20}
func ParseDeclaration(literal string) (Declaration, error) {
	if !namePattern.MatchString(literal) {
		return Declaration{}, apperror.InvalidDependency(literal)
	}

	// The version separator is the last '@' that is not the scope marker.
	at := strings.LastIndex(literal, "@")
	if at <= 0 {
		return Declaration{Name: literal, Version: DefaultVersion}, nil
	}
	return Declaration{Name: literal[:at], Version: literal[at+1:]}, nil
}

// ParseAll validates every literal before returning any of them, so a single
// bad entry rejects the whole list.
func ParseAll(literals []string) ([]Declaration, error) {
	decls := make([]Declaration, 0, len(literals))
	for _, lit := range literals {
		d, err := ParseDeclaration(lit)
		if err != nil {
			return nil, err
		}
		decls = append(decls, d)
	}
	return decls, nil
}
