package sessionlog

import "strings"

// EscapeWorkspacePath turns an absolute workspace path into a filesystem-safe
// directory name. The source's dash-replacement scheme is lossy for paths
// that already contain a dash before a separator; we
// instead hex-escape the path separator byte, which round-trips losslessly
// and needs no disambiguation rule.
func EscapeWorkspacePath(path string) string {
	var b strings.Builder
	b.Grow(len(path) + 8)
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '/':
			b.WriteString("%2f")
		case '%':
			b.WriteString("%25")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// UnescapeWorkspacePath inverts EscapeWorkspacePath.
func UnescapeWorkspacePath(escaped string) string {
	var b strings.Builder
	b.Grow(len(escaped))
	for i := 0; i < len(escaped); {
		if escaped[i] == '%' && i+2 < len(escaped) {
			switch escaped[i+1 : i+3] {
			case "2f":
				b.WriteByte('/')
				i += 3
				continue
			case "25":
				b.WriteByte('%')
				i += 3
				continue
			}
		}
		b.WriteByte(escaped[i])
		i++
	}
	return b.String()
}
