// Package mention finds @name tokens in document content and resolves them
// to known users so the service can share the document with them.
package mention

import (
	"context"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`@(\w+)`)

// Extract returns the distinct @tokens found in content, in order of first
// occurrence and without the leading @. Malformed tokens (a bare @ or @
// followed by punctuation) are skipped by the pattern itself.
func Extract(content string) []string {
	matches := tokenPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, match := range matches {
		token := match[1]
		key := strings.ToLower(token)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

// ResolvedUser is the slice of a user that mention handling needs.
type ResolvedUser struct {
	ID          string
	DisplayName string
	Email       string
}

// UserLookup resolves a token to a user. Implementations must match the
// token case-insensitively against display name or email and break ties
// deterministically (the store orders by lowercased display name, then ID).
// A miss is reported as ok=false, never as an error.
type UserLookup interface {
	FindUserByFragment(ctx context.Context, fragment string) (ResolvedUser, bool, error)
}

// Resolve maps tokens to users via lookup. Tokens that match no user are
// dropped silently. The result is unique by user ID even when several
// tokens resolve to the same user.
func Resolve(ctx context.Context, tokens []string, lookup UserLookup) ([]ResolvedUser, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tokens))
	users := make([]ResolvedUser, 0, len(tokens))
	for _, token := range tokens {
		user, ok, err := lookup.FindUserByFragment(ctx, token)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		users = append(users, user)
	}
	return users, nil
}
