package api

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"guidnet/internal/peerclient"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency. Requests slower than a peer's own RPC
// timeout are flagged — by the time a caller sees a response like that,
// peerclient.DefaultRPCTimeout has usually already made it give up and
// treat this node as unreachable (spec §4.3).
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		slow := ""
		if elapsed > peerclient.DefaultRPCTimeout {
			slow = " SLOW"
		}
		log.Printf("api: [%s] %s %s | %d | %s%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			elapsed,
			slow,
		)
	}
}

// Recovery replaces Gin's default recovery, logging the panic and replying
// with the same {"error": ...} shape every other handler error uses
// (see handlers.go), so a panicking handler is indistinguishable from an
// ordinary 500 to a PeerClient caller.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("api: panic recovered on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
