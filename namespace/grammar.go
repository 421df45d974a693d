package namespace

import (
	"regexp"
	"strings"

	"github.com/teranos/nstree/errors"
)

// Separator joins path segments.
const Separator = "/"

// RootPath addresses the root group.
const RootPath = Separator

// nameGrammar accepts a leading ASCII alphanumeric, '_', '-' or '.', then
// any of those or ASCII whitespace. RE2's \s lacks \v, so it is listed.
var nameGrammar = regexp.MustCompile(`^[0-9a-zA-Z_\-.][0-9a-zA-Z_\-.\s\v]*$`)

// ValidateName checks a non-root node name against the name grammar.
// The name is never altered.
func ValidateName(name string) error {
	if name == "" {
		return errors.WithHint(ErrEmptyName, "only the root group has an empty name")
	}
	if !nameGrammar.MatchString(name) {
		return errors.WithHint(
			errors.Wrapf(ErrInvalidName, "%q", name),
			"names start with a letter, digit, '_', '-' or '.', and may continue with those or whitespace")
	}
	return nil
}

// SplitPath parses an absolute path into its segments. The root path
// yields no segments. Segments are not checked against the name grammar;
// a segment that could never exist simply fails to resolve.
func SplitPath(p string) ([]string, error) {
	switch {
	case p == "":
		return nil, errors.Wrap(ErrMalformedPath, "empty path")
	case p == RootPath:
		return nil, nil
	case !strings.HasPrefix(p, Separator):
		return nil, errors.WithHint(
			errors.Wrapf(ErrMalformedPath, "%q is not absolute", p),
			"paths start with '/'")
	case strings.HasSuffix(p, Separator):
		return nil, errors.Wrapf(ErrMalformedPath, "%q has a trailing '/'", p)
	}

	segments := strings.Split(p[1:], Separator)
	for _, s := range segments {
		if s == "" {
			return nil, errors.Wrapf(ErrMalformedPath, "%q has an empty segment", p)
		}
	}
	return segments, nil
}

// JoinPath appends name to parent without doubling the root slash.
func JoinPath(parent, name string) string {
	if parent == RootPath {
		return RootPath + name
	}
	return parent + Separator + name
}
