package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkrole-backend-go/internal/config"
	"linkrole-backend-go/internal/core"
	"linkrole-backend-go/internal/db"
	"linkrole-backend-go/internal/middleware"
)

// SetupRoutes configures all the application routes with their handlers and
// middleware. Global middleware (logging, recovery, CORS) are applied to the
// router before this function is called, in main.
func SetupRoutes(
	router *gin.Engine,
	appConfig *config.Config,
	logger *zap.Logger,
	userService core.UserService,
	billingService core.BillingService,
) {
	// Payment providers must see a 405 (not a 404) when probing webhook
	// paths with the wrong method.
	router.HandleMethodNotAllowed = true

	firebaseAuthClient := db.GetFirebaseAuthClient()
	if firebaseAuthClient == nil {
		logger.Fatal("CRITICAL_SETUP_ERROR: Firebase Auth client is not initialized. AuthMiddleware cannot be created.")
		panic("Firebase Auth client is nil during route setup")
	}
	authMW := middleware.NewAuthMiddleware(firebaseAuthClient)

	authHandler := NewAuthHandler(userService, logger)
	userHandler := NewUserHandler(userService, logger)
	plansHandler := NewPlansHandler()
	billingHandler := NewBillingHandler(billingService, logger)

	apiV1 := router.Group("/api/v1")
	{
		usersGroup := apiV1.Group("/users")
		{
			// Called after client-side Firebase login/signup to ensure a
			// backend profile exists.
			usersGroup.POST("/initialize", authMW.VerifyToken(), authHandler.InitializeUserProfile)
			usersGroup.GET("/me", authMW.VerifyToken(), userHandler.GetCurrentUserProfile)
		}

		// Public plan catalog for the pricing page and feature gating.
		apiV1.GET("/plans", plansHandler.ListPlans)

		billingGroup := apiV1.Group("/billing")
		{
			// Public webhook endpoints: providers authenticate via the
			// signature over the raw body, never via bearer tokens. No
			// body-parsing middleware may run ahead of these handlers.
			billingGroup.POST("/webhooks/stripe", billingHandler.HandleStripeWebhook)
			if appConfig.FlutterwaveSecretHash != "" {
				billingGroup.POST("/webhooks/flutterwave", billingHandler.HandleFlutterwaveWebhook)
			}
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "message": "LinkRole backend is healthy."})
	})

	logger.Info("API routes configured successfully under /api/v1 and /health.")
}
