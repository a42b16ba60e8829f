package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/doctemplates_backend/config"
	"bitbucket.org/mmdatafocus/doctemplates_backend/middlewares"
	"bitbucket.org/mmdatafocus/doctemplates_backend/models"
	"bitbucket.org/mmdatafocus/doctemplates_backend/template"
	"bitbucket.org/mmdatafocus/doctemplates_backend/utils"
	"bitbucket.org/mmdatafocus/doctemplates_backend/workflow"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

// newEngine assembles the workflow engine from the live infrastructure.
// Constructed per request: the readiness gate guarantees the DB is up by the
// time any handler runs, and the structs themselves are cheap.
func newEngine() *workflow.Engine {
	db := config.GetDB()
	return workflow.NewEngine(
		models.NewTemplateVersionStore(db),
		models.NewAuditLog(db),
		utils.GCSBlobStore{},
		workflow.CachedSampleProvider{},
		template.NewValidator(config.GetRequiredPlaceholders()),
		config.GetLogger(),
	)
}

type candidateRequest struct {
	Content     string          `json:"content"`
	MappingSpec json.RawMessage `json:"mapping_spec"`
	Notes       string          `json:"notes"`
	SampleData  map[string]any  `json:"sample_data"`
}

// bindCandidate parses and validates the shared request shape for the
// validate / preview / approve routes. A malformed mapping spec is a client
// error here, never a validation finding.
func bindCandidate(c *gin.Context) (*workflow.Candidate, *candidateRequest, bool) {
	documentType := c.Param("documentType")
	if !config.IsAllowedDocumentType(documentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown document type %q", documentType)})
		return nil, nil, false
	}
	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return nil, nil, false
	}
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return nil, nil, false
	}
	spec, err := template.ParseMappingSpec(req.MappingSpec)
	if err != nil {
		if fields := utils.ProcessValidationErrors(err); len(fields) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping spec", "fields": fields})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping spec: " + err.Error()})
		}
		return nil, nil, false
	}
	return &workflow.Candidate{
		DocumentType: documentType,
		Content:      req.Content,
		MappingSpec:  spec,
	}, &req, true
}

func mustTenant(c *gin.Context) string {
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	return tenantId
}

func validateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate, _, ok := bindCandidate(c)
		if !ok {
			return
		}
		result, err := newEngine().Validate(c.Request.Context(), mustTenant(c), candidate)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func previewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate, req, ok := bindCandidate(c)
		if !ok {
			return
		}
		result, err := newEngine().Preview(c.Request.Context(), mustTenant(c), candidate, req.SampleData)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func approveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		candidate, req, ok := bindCandidate(c)
		if !ok {
			return
		}
		version, err := newEngine().Approve(c.Request.Context(), mustTenant(c), candidate, req.Notes)
		if err != nil {
			var invalid *workflow.ValidationFailedError
			switch {
			case errors.As(err, &invalid):
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error":      "candidate failed validation",
					"validation": invalid.Result,
				})
			case errors.Is(err, utils.ErrorVersionConflict):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			}
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"version": version, "correlation_id": cid})
	}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func rejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		documentType := c.Param("documentType")
		if !config.IsAllowedDocumentType(documentType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown document type %q", documentType)})
			return
		}
		var req rejectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := newEngine().Reject(c.Request.Context(), mustTenant(c), documentType, req.Reason); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	}
}

type rollbackRequest struct {
	Notes string `json:"notes"`
}

func rollbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		documentType := c.Param("documentType")
		if !config.IsAllowedDocumentType(documentType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown document type %q", documentType)})
			return
		}
		var req rollbackRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		version, err := newEngine().Rollback(c.Request.Context(), mustTenant(c), documentType, req.Notes)
		if err != nil {
			switch {
			case errors.Is(err, utils.ErrorNothingToRollBack):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, utils.ErrorVersionConflict):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": version})
	}
}

func activeVersionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store := models.NewTemplateVersionStore(config.GetDB())
		version, err := store.ActiveVersion(c.Request.Context(), mustTenant(c), c.Param("documentType"))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active template version"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, version)
	}
}

func versionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store := models.NewTemplateVersionStore(config.GetDB())
		versions, err := store.Versions(c.Request.Context(), mustTenant(c), c.Param("documentType"))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"versions": versions})
	}
}

func auditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		auditLog := models.NewAuditLog(config.GetDB())
		events, err := auditLog.List(c.Request.Context(), mustTenant(c), c.Param("documentType"), limit)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/readyz", func(c *gin.Context) {
		if err := models.CheckActiveInvariant(c.Request.Context(), config.GetDB()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "x-tenant-id", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	templates := r.Group("/templates/:documentType", middlewares.TenantMiddleware())
	templates.POST("/validate", validateHandler())
	templates.POST("/preview", previewHandler())
	templates.POST("/approve", approveHandler())
	templates.POST("/reject", rejectHandler())
	templates.POST("/rollback", rollbackHandler())
	templates.GET("/active", activeVersionHandler())
	templates.GET("/versions", versionsHandler())
	templates.GET("/audit", auditHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("template service listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
