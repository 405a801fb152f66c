package action

import "github.com/mattn/go-shellwords"

// shellSplit tokenizes a line the way a POSIX shell would (quoting and
// escaping honored), used for the "shell-style token split" action
// items call for (spec §4.5 "File-drop"), as distinct from the plain
// space-separated splitting RPC and file-transfer items use.
func shellSplit(line string) ([]string, error) {
	return shellwords.Parse(line)
}
