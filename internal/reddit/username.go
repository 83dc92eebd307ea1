package reddit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/MikeSquared-Agency/persona/internal/errs"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// ParseUsername accepts a profile URL (https://www.reddit.com/user/x/,
// old.reddit.com/u/x), a u/x reference, or a bare name and returns the
// validated username.
func ParseUsername(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("empty username: %w", errs.ErrInvalidRequest)
	}

	var name string
	if strings.Contains(s, "://") || strings.Contains(s, "reddit.com") {
		if !strings.Contains(s, "://") {
			s = "https://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("parse profile url %q: %w", input, errs.ErrInvalidRequest)
		}
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i+1 < len(segments); i++ {
			if segments[i] == "user" || segments[i] == "u" {
				name = segments[i+1]
				break
			}
		}
		if name == "" {
			return "", fmt.Errorf("no username in %q: %w", input, errs.ErrInvalidRequest)
		}
	} else {
		name = strings.Trim(s, "/")
		for _, prefix := range []string{"user/", "u/"} {
			name = strings.TrimPrefix(name, prefix)
		}
		name = strings.TrimPrefix(name, "@")
	}

	if !usernamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid username %q: %w", name, errs.ErrInvalidRequest)
	}
	return name, nil
}
