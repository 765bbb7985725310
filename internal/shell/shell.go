// Package shell implements the canned fake-shell command table shared
// by the SSH, Telnet, and ADB emulators, grounded on
// original_source/honeypot/services/ssh.py's response map.
package shell

import (
	"fmt"
	"strings"
)

var exact = map[string]string{
	"pwd":      "/root",
	"id":       "uid=0(root) gid=0(root) groups=0(root)",
	"whoami":   "root",
	"uname -a": "Linux honeypot 5.15.0-76-generic #83-Ubuntu SMP x86_64 GNU/Linux",
	"ls": "bin  boot  dev  etc  home  lib  media  mnt  opt  proc  root  run  sbin  srv  sys  tmp  usr  var",
	"ls -la": "total 44\n" +
		"drwx------  6 root root 4096 Jan  1 00:00 .\n" +
		"drwxr-xr-x 23 root root 4096 Jan  1 00:00 ..\n" +
		"-rw-------  1 root root  571 Jan  1 00:00 .bash_history",
	"ps": "  PID TTY          TIME CMD\n    1 pts/0    00:00:00 bash",
	"ps aux": "USER  PID %CPU %MEM    VSZ   RSS TTY STAT START   TIME COMMAND\n" +
		"root    1  0.0  0.1  18504  3364 pts/0 Ss   00:00   0:00 bash",
	"cat /etc/passwd": "root:x:0:0:root:/root:/bin/bash\n" +
		"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin\n" +
		"sshd:x:112:65534::/run/sshd:/usr/sbin/nologin",
	"history": "",
	"clear":   "",
	"exit":    "",
	"quit":    "",
	"logout":  "",
}

// Exit reports whether cmd should terminate the session.
func Exit(cmd string) bool {
	switch strings.TrimSpace(cmd) {
	case "exit", "quit", "logout":
		return true
	}
	return false
}

// Respond returns the canned output for cmd: exact match first, then
// prefix match on the first whitespace-delimited token, with specials
// for `cd` (silent) and `echo` (echoes its argument).
func Respond(cmd string) string {
	trimmed := strings.TrimSpace(cmd)
	if out, ok := exact[trimmed]; ok {
		return out
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	head := fields[0]

	switch head {
	case "cd":
		return ""
	case "echo":
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "echo"))
	}

	if out, ok := exact[head]; ok {
		return out
	}
	return fmt.Sprintf("-bash: %s: command not found", head)
}
