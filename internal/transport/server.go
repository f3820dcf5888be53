// Package transport provides the inter-replica HTTP surface: a fire-and-
// forget broadcast primitive plus the gin-based POST /message and GET
// /health endpoints every replica exposes.
package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"marketledger/internal/consensus"
	"marketledger/internal/logger"
)

// MessageHandler processes an inbound consensus message and reports
// whether the local replica now considers the relevant block committed.
type MessageHandler func(msg consensus.Message) (quorumReached bool, err error)

// Server hosts the replica's HTTP endpoints on a dedicated *gin.Engine,
// mirroring this lineage's pattern of a separate router per concern.
type Server struct {
	router  *gin.Engine
	handler MessageHandler
	secret  []byte
}

// NewServer builds the router and wires /message, /health, and /stats. When
// sharedSecret is non-empty, POST /message requires a bearer JWT signed
// with it (HS256); an empty secret leaves /message open, matching the
// reference implementation's unauthenticated inter-replica traffic.
func NewServer(handler MessageHandler, stats func() map[string]interface{}, sharedSecret string) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	s := &Server{router: r, handler: handler, secret: []byte(sharedSecret)}

	message := r.Group("/message")
	if len(s.secret) > 0 {
		message.Use(s.requireBearerToken)
	}
	message.POST("", s.postMessage)

	r.GET("/health", s.getHealth)
	r.GET("/stats", func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, stats())
	})

	return s
}

func (s *Server) requireBearerToken(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" || tokenStr == header {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "rejected", "error": "missing bearer token"})
		return
	}

	_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "rejected", "error": "invalid token"})
		return
	}
	c.Next()
}

// IssueToken signs a short-lived HS256 bearer token for inter-replica
// traffic, for use by Client when REPLICA_SHARED_SECRET is configured.
func IssueToken(sharedSecret string, nodeID int, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"node_id": nodeID,
		"exp":     time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(sharedSecret))
}

// Handler returns the underlying http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) postMessage(c *gin.Context) {
	var msg consensus.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "error": err.Error()})
		return
	}

	quorumReached, err := s.handler(msg)
	if err != nil {
		logger.Warn("transport: message handling failed", "error", err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "pending", "quorum_reached": false})
		return
	}

	status := "pending"
	if quorumReached {
		status = "accepted"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "quorum_reached": quorumReached})
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// EncodeMessage is a convenience wrapper for callers building a consensus
// message body outside this package.
func EncodeMessage(msg consensus.Message) ([]byte, error) {
	return json.Marshal(msg)
}
