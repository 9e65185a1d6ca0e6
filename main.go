package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/equipments"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/notifications"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/quota"
	"github.com/KazuyaTTL/Backend-QLTB/internal/equip_mgmt/requests"
	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/auth"
	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/cache"
	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/db"
	"github.com/KazuyaTTL/Backend-QLTB/internal/platform/scheduler"
)

func main() {
	// 設定読み込み
	cfg, err := db.LoadConfig("config/config.yaml")
	if err != nil {
		panic(err)
	}

	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if mode != "dev" && mode != "release" {
		fmt.Println("Usage: go run main.go [dev|release]")
		return
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		panic(err)
	}
	defer conn.Close()

	log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

	// Idempotency-Key ガード（redis 未設定なら素通し）
	guard := cache.NewGuard(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if guard.Enabled() {
		if err := guard.Ping(context.Background()); err != nil {
			log.Printf("[WARN] redis unreachable, idempotency guard degraded: %v", err)
		} else {
			log.Printf("[INFO] connected to redis: %s", cfg.Redis.Addr)
		}
	}

	secret := []byte(cfg.Auth.JWTSecret)
	tokenTTL := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour

	authSvc := auth.NewService(conn, secret, tokenTTL)
	notifSvc := notifications.NewService(notifications.NewStore(conn))
	equipSvc := equipments.NewService(conn)
	quotaSvc := quota.NewService(conn)
	reqSvc := requests.NewService(conn, requests.NewStore(conn), equipSvc.Store(), quotaSvc.Store(), notifSvc)

	// 定期処理（延滞スキャン・リマインド・制限掃除・通知掃除）
	var zl *zap.Logger
	if mode == "dev" {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer zl.Sync()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker := scheduler.NewWorker(zl.Named("scheduler"), reqSvc, quotaSvc, notifSvc,
		time.Duration(cfg.Worker.IntervalMinutes)*time.Minute, cfg.Worker.ReminderDays)
	go worker.Run(workerCtx)

	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// API ドキュメント
	r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// /api/v1
	api := r.Group("/api/v1")
	auth.RegisterRoutes(api, authSvc)

	authed := api.Group("", auth.RequireAuth(secret), guard.Middleware(auth.CtxUserIDKey))
	admin := authed.Group("", auth.RequireAdmin())

	auth.RegisterProtectedRoutes(authed, authSvc)
	equipments.RegisterRoutes(authed, admin, equipSvc)
	quota.RegisterRoutes(authed, admin, quotaSvc)
	requests.RegisterRoutes(authed, admin, reqSvc)
	notifications.RegisterRoutes(authed, notifSvc)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	go func() {
		log.Printf("[INFO] listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Println("[INFO] shutting down...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
}
