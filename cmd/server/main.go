package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/api"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/config"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/database"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/identity"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/middleware"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/services"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/store"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatal("Failed to initialize config:", err)
	}

	// Initialize logging
	logging.InitLogging()

	// Initialize database and Redis
	if err := database.InitDatabase(); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.CloseDatabase()

	// Initialize Firebase; without credentials the service runs on the
	// in-memory store with header-based auth, for development only
	ctx := context.Background()
	firebaseEnabled, err := database.InitFirebase(ctx)
	if err != nil {
		log.Fatal("Failed to initialize Firebase:", err)
	}
	defer database.CloseFirebase()

	var entitlementStore store.EntitlementStore
	var authMiddleware gin.HandlerFunc
	if firebaseEnabled {
		entitlementStore = store.NewFirestoreStore(database.FirestoreClient)
		authMiddleware = middleware.FirebaseAuthMiddleware()
	} else {
		logging.Warnf("Running with in-memory entitlement store, state is not durable")
		entitlementStore = store.NewMemoryStore()
		authMiddleware = middleware.DevAuthMiddleware()
	}

	// Transaction verifier needs the provider's trusted root
	var verifier *services.TransactionVerifier
	if config.AppConfig.ProviderRootCert != "" {
		verifier, err = services.NewTransactionVerifierFromFile(config.AppConfig.ProviderRootCert)
		if err != nil {
			log.Fatal("Failed to load provider root certificate:", err)
		}
	} else {
		logging.Warnf("PROVIDER_ROOT_CERT not set, signed transactions cannot be verified")
	}

	orchestrator := services.NewPurchaseOrchestrator(services.OrchestratorDeps{
		Identity:            identity.ContextProvider{},
		Provider:            services.NewHTTPPaymentProvider(config.AppConfig.ProviderBaseURL),
		Verifier:            verifier,
		Store:               entitlementStore,
		Ledger:              database.NewLedger(),
		Mailer:              mailerOrNil(),
		ProductID:           config.AppConfig.PremiumProductID,
		BillingPeriodMonths: config.AppConfig.BillingPeriodMonths,
	})

	cache := services.NewEntitlementCache(database.GetRedis(),
		time.Duration(config.AppConfig.StatusCacheSeconds)*time.Second)

	api.InitSubscriptionAPI(&api.Dependencies{
		Orchestrator: orchestrator,
		Store:        entitlementStore,
		Cache:        cache,
	})

	// Set Gin mode
	gin.SetMode(config.AppConfig.Mode)

	// Create Gin engine
	r := gin.Default()

	// Setup routes
	api.SetupRoutes(r, authMiddleware)

	// Start server
	port := config.AppConfig.Port
	logging.Infof("Starting server on port %s", port)

	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// mailerOrNil keeps the orchestrator's optional mailer slot nil-safe: a nil
// *ReceiptMailer stuffed into the interface would not compare equal to nil.
func mailerOrNil() services.ReceiptSender {
	if m := services.NewReceiptMailer(); m != nil {
		return m
	}
	return nil
}
