package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/kafka"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/offer"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/receipt"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/ws"
)

type Server struct {
	store    *store.Store
	offers   *offer.Machine
	receipts *receipt.Tracker
	hub      *ws.Hub
	wsh      *ws.Handler
	producer *kafka.Producer
	log      *zap.SugaredLogger
}

type ServerConfig struct {
	Store    *store.Store
	Offers   *offer.Machine
	Receipts *receipt.Tracker
	Hub      *ws.Hub
	WS       *ws.Handler
	Producer *kafka.Producer
	Logger   *zap.SugaredLogger
}

func NewServer(cfg ServerConfig) *fiber.App {
	s := &Server{
		store:    cfg.Store,
		offers:   cfg.Offers,
		receipts: cfg.Receipts,
		hub:      cfg.Hub,
		wsh:      cfg.WS,
		producer: cfg.Producer,
		log:      cfg.Logger,
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(fiberlogger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.wsh.Serve))

	v1 := app.Group("/api/v1")
	v1.Post("/chat", s.fallbackChat)
	v1.Get("/chat/history", s.fallbackHistory)

	v1.Post("/conversations", s.createConversation)
	v1.Get("/conversations", s.listConversations)
	v1.Get("/conversations/:id/messages", s.listMessages)
	v1.Post("/conversations/:id/messages", s.postMessage)
	v1.Post("/conversations/:id/read", s.markRead)
	v1.Post("/conversations/:id/flag", s.flag)
	v1.Post("/conversations/:id/offers/:messageId/respond", s.respondToOffer)

	return app
}
