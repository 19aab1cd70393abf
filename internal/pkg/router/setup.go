package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/seranking/paygate/internal/pkg/access"
	"github.com/seranking/paygate/internal/pkg/config"
	"github.com/seranking/paygate/internal/pkg/database"
	"github.com/seranking/paygate/internal/pkg/notify"
	"github.com/seranking/paygate/internal/pkg/payments"
	"github.com/seranking/paygate/internal/pkg/postback"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires the services against the shared DB handle and registers
// every route group.
func InstallRouter(app *fiber.App, cfg *config.Config) {
	db := database.GetDB()
	emails := notify.BuildEmailSender(cfg)
	telegram := notify.NewTelegramSender(cfg)
	postbacks := postback.NewClient(cfg)

	accessSvc := access.NewServiceFromDB(cfg, db, emails, telegram)
	paymentsSvc := payments.NewServiceFromDB(cfg, db, emails, telegram, postbacks)

	setup(app, NewApiRouter(cfg, paymentsSvc, accessSvc, postbacks))
}

func setup(app *fiber.App, routers ...Router) {
	for _, r := range routers {
		r.InstallRouter(app)
	}
}
