package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/Depado/ginprom"
	"github.com/asaskevich/EventBus"
	"github.com/wabridge/app/api/routes"
	"github.com/wabridge/pkg/blob"
	"github.com/wabridge/pkg/config"
	"github.com/wabridge/pkg/database"

	"github.com/wabridge/pkg/domains/auth"
	"github.com/wabridge/pkg/domains/whatsapp"
	"github.com/wabridge/pkg/middleware"
	"github.com/wabridge/pkg/protocol"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func LaunchHttpServer(cfg *config.Config) {
	log.Println("Starting HTTP Server...")
	gin.SetMode(gin.DebugMode)

	app := gin.New()
	app.Use(gin.LoggerWithFormatter(func(log gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] - %s \"%s %s %s %d %s\"\n",
			log.TimeStamp.Format("2006-01-02 15:04:05"),
			log.ClientIP,
			log.Method,
			log.Path,
			log.Request.Proto,
			log.StatusCode,
			log.Latency,
		)
	}))
	app.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	app.Use(gin.Recovery())
	app.Use(otelgin.Middleware(cfg.App.Name))
	app.Use(middleware.ClaimIp())
	app.Use(cors.New(cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Origin", "Accept"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	p := ginprom.New(
		ginprom.Engine(app),
		ginprom.Subsystem("gin"),
		ginprom.Path("/metrics"),
		ginprom.Ignore("/swagger/*any"),
	)
	app.Use(p.Instrument())

	db := database.DBClient()
	api := app.Group("/api/v1")

	// Auth Routes
	auth_repo := auth.NewRepo(db)
	auth_service := auth.NewService(auth_repo)
	routes.AuthRoutes(api.Group("/auth"), auth_service)

	// WhatsApp wiring: repo + credential store + session manager + dispatch
	// bridge share one bus and one database handle.
	blob_store, err := blob.New(cfg.Blob.Dir, cfg.Blob.BaseURL)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}
	cred_store, err := whatsapp.NewCredentialStore(context.Background(), db)
	if err != nil {
		log.Fatalf("Failed to open credential store: %v", err)
	}
	whatsapp_repo := whatsapp.NewRepo(db)
	bus := EventBus.New()
	manager := whatsapp.NewManager(whatsapp_repo, cred_store, blob_store, protocol.NewDriver)
	manager.ApplyPolicy(whatsapp.Policy{
		ConnectTimeout:       time.Duration(cfg.Whatsapp.ConnectTimeoutSec) * time.Second,
		ReconnectBaseDelay:   time.Duration(cfg.Whatsapp.ReconnectBaseSec) * time.Second,
		ReconnectMaxDelay:    time.Duration(cfg.Whatsapp.ReconnectMaxSec) * time.Second,
		ReconnectMaxAttempts: cfg.Whatsapp.ReconnectMaxAttempts,
		EchoCacheTTL:         time.Duration(cfg.Whatsapp.EchoCacheTTLSec) * time.Second,
	})
	bridge := whatsapp.NewBridge(bus, manager, whatsapp_repo)
	if err := bridge.Start(); err != nil {
		log.Fatalf("Failed to start dispatch bridge: %v", err)
	}
	go manager.Resume(context.Background())

	whatsapp_service := whatsapp.NewService(manager, whatsapp_repo, bus)
	routes.WhatsAppRoutes(api.Group("/whatsapp"), whatsapp_service)

	// Downloaded media payloads are served straight off disk
	app.Static("/media", cfg.Blob.Dir)

	fmt.Println("Server is running on port " + cfg.App.Port)
	if err := app.Run(net.JoinHostPort(cfg.App.Host, cfg.App.Port)); err != nil {
		log.Fatalf("Server başarisiz oldu: %v", err)
	}
}
