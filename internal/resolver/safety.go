package resolver

import (
	"fmt"
	"strings"
)

// SecurityError marks a command resolution rejected on safety grounds.
// The scheduler maps it to exit 403 with no retry.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "SECURITY: " + e.Reason
}

const rollbackPrefix = "rollback/"

// checkRollbackSafety rejects version-control arguments that create or
// push a ref whose name begins with rollback/. Checking out an existing
// rollback/* branch (no -b) is allowed.
func checkRollbackSafety(args []string) error {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "checkout":
			if i+2 < len(args) && args[i+1] == "-b" && strings.HasPrefix(args[i+2], rollbackPrefix) {
				return &SecurityError{Reason: fmt.Sprintf("refusing to create branch %q", args[i+2])}
			}
		case "branch":
			if name := firstNonFlagArg(args[i+1:]); name != "" && strings.HasPrefix(name, rollbackPrefix) {
				return &SecurityError{Reason: fmt.Sprintf("refusing to create branch %q", name)}
			}
		case "push":
			for _, refspec := range args[i+1:] {
				if refspecTouchesRollback(refspec) {
					return &SecurityError{Reason: fmt.Sprintf("refusing to push refspec %q", refspec)}
				}
			}
		}
	}
	return nil
}

// firstNonFlagArg returns the first argument in rest that does not start
// with "-", or "" if none.
func firstNonFlagArg(rest []string) string {
	for _, a := range rest {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// refspecTouchesRollback reports whether refspec (e.g. "HEAD:refs/heads/
// rollback/main" or "refs/remotes/origin/rollback/x:refs/heads/x") has
// rollback as any path component on either side of the colon.
func refspecTouchesRollback(refspec string) bool {
	for _, side := range strings.SplitN(refspec, ":", 2) {
		for _, part := range strings.Split(side, "/") {
			if part == "rollback" {
				return true
			}
		}
	}
	return false
}
