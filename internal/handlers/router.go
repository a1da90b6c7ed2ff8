package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chartwellhealth/provider-portal/internal/middleware"
)

// RouterConfig carries the settings the router needs beyond its handlers.
type RouterConfig struct {
	SessionCookieName string
	TestEndpoints     bool
}

// NewRouter assembles the gin engine with middleware and all portal routes.
func NewRouter(cfg RouterConfig, invitations *InvitationHandler) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.Session(cfg.SessionCookieName))

	r.NoRoute(middleware.NotFoundHandler)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	portal := r.Group("/portal")
	{
		portal.GET("/auth/callback", invitations.Callback)

		org := portal.Group("/organizations/:org_id")
		{
			org.POST("/invitations", invitations.Create)

			inv := org.Group("/invitations/:invitation_id")
			{
				inv.GET("", invitations.Show)
				inv.GET("/login", invitations.Login)
				inv.POST("/accept", invitations.Accept)
				inv.POST("/confirm_cd", invitations.ConfirmCD)
				inv.POST("/confirm", invitations.Confirm)
				inv.POST("/register", invitations.Register)
				inv.POST("/renew", invitations.Renew)
				inv.POST("/cancel", invitations.Cancel)

				if cfg.TestEndpoints {
					inv.POST("/set_idp_token", invitations.SetIdPToken)
				}
			}
		}
	}

	return r
}
