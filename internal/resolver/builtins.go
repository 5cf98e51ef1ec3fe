package resolver

import (
	"github.com/opsqueue/queueworker/internal/task"
)

// resolveAITool builds the ResolverFunc for an AI coding assistant
// (aider, codex, claude): argv = [--message-file <promptfile>]? ++ flags
// ++ files. All three tools share this invocation convention, so one
// resolver parameterized by tool name covers all three.
func resolveAITool(tool string) func(t *task.Task, promptFile string) (Command, error) {
	return func(t *task.Task, promptFile string) (Command, error) {
		args := make([]string, 0, len(t.Flags)+len(t.Files)+2)
		if promptFile != "" {
			args = append(args, "--message-file", promptFile)
		}
		args = append(args, t.Flags...)
		args = append(args, t.Files...)
		return Command{Executable: tool, Arguments: args}, nil
	}
}

// resolveGit builds the version-control command: argv is the task's args
// verbatim, after the rollback/* safety check.
func resolveGit(t *task.Task, promptFile string) (Command, error) {
	if err := checkRollbackSafety(t.Args); err != nil {
		return Command{}, err
	}
	return Command{Executable: "git", Arguments: append([]string{}, t.Args...)}, nil
}

// resolveFallback is used for any tool with neither a plugin nor a
// builtin: argv = [--message-file <promptfile>]? ++ flags ++ args ++ files.
func resolveFallback(t *task.Task, promptFile string) (Command, error) {
	args := make([]string, 0, len(t.Flags)+len(t.Args)+len(t.Files)+2)
	if promptFile != "" {
		args = append(args, "--message-file", promptFile)
	}
	args = append(args, t.Flags...)
	args = append(args, t.Args...)
	args = append(args, t.Files...)
	return Command{Executable: t.Tool, Arguments: args}, nil
}
