package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// sanitizeBase normalizes a configured base path to either "" (serve at root)
// or "/segment[/...]" with no trailing slash. Leading and trailing runs of
// slashes and whitespace are stripped together so the result is a fixed point.
func sanitizeBase(bp string) string {
	bp = strings.Trim(bp, "/ \t\r\n")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// isSafeName rejects anything that could not be a declared service name.
// Names flow into pidfile and capture-log paths (<dir>/<name>.stdout.log),
// so only ASCII [A-Za-z0-9._-] is accepted and ".." is refused outright.
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch b := s[i]; {
		case b >= 'a' && b <= 'z':
		case b >= 'A' && b <= 'Z':
		case b >= '0' && b <= '9':
		case b == '.' || b == '_' || b == '-':
		default:
			return false
		}
	}
	return true
}

func writeJSON(c *gin.Context, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json", b)
}
