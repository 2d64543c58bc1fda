package channel

import (
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/crucible-sec/crucible/errors"
)

// denylistEntry pairs a destructive-command pattern with the name reported
// back to the caller when it matches.
type denylistEntry struct {
	name    string
	pattern *regexp.Regexp
}

// Destructive patterns rejected before any container call. Matching is done
// against the shell-quoted joined command, so argv boundaries cannot hide a
// pattern.
var denylist = []denylistEntry{
	{"recursive deletion of root", regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r|-r\s+-f|-f\s+-r)\s+/(\s|$|\*|')`)},
	{"raw device write", regexp.MustCompile(`dd\s+[^|;]*of=/dev/`)},
	{"filesystem format", regexp.MustCompile(`mkfs(\.[a-z0-9]+)?\s`)},
	{"raw disk write", regexp.MustCompile(`>\s*/dev/(sd|hd|vd|nvme|xvd)[a-z0-9]*(\s|$)`)},
}

// validate rejects bad requests locally. Validation failures are never
// retried and always short-circuit before any container call.
func (c *Channel) validate(argv []string) error {
	if len(argv) == 0 {
		return errors.NewValidationError("empty argv")
	}
	for _, arg := range argv {
		if strings.TrimSpace(arg) == "" && arg == argv[0] {
			return errors.NewValidationError("empty command")
		}
	}

	joined := shellquote.Join(argv...)
	if len(joined) > c.cfg.MaxCommandLength {
		return errors.NewValidationError("command length %d exceeds ceiling %d", len(joined), c.cfg.MaxCommandLength)
	}

	for _, entry := range denylist {
		if entry.pattern.MatchString(joined) {
			return errors.NewValidationError("command matches denylisted pattern: %s", entry.name)
		}
	}
	return nil
}
