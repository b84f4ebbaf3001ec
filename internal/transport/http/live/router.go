package livehttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"upbitmt/internal/dispatch"
	"upbitmt/internal/gateway/database"
	"upbitmt/internal/logger"
	"upbitmt/internal/rule"
	"upbitmt/internal/store"
	"upbitmt/internal/store/model"

	"github.com/gin-gonic/gin"
)

// Engine is the part of the dispatch engine the API reads and drives.
type Engine interface {
	Rules() []rule.WatchRule
	Status() dispatch.Status
	Reload(ctx context.Context) (rule.LoadSummary, error)
}

// Namer resolves a market code to its display name.
type Namer interface {
	DisplayName(market string) string
}

// Router exposes the /api/live endpoints: rules, orders and the tick journal.
type Router struct {
	Engine Engine
	Orders store.OrderRepository
	Ticks  *database.TickLog
	Namer  Namer
}

func NewRouter(engine Engine, orders store.OrderRepository, ticks *database.TickLog, namer Namer) *Router {
	return &Router{Engine: engine, Orders: orders, Ticks: ticks, Namer: namer}
}

// Register mounts the routes on group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/rules", r.handleRules)
	group.POST("/rules/reload", r.handleReload)
	group.GET("/orders", r.handleOrders)
	group.GET("/ticks", r.handleTicks)
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.Engine.Status())
}

func (r *Router) handleRules(c *gin.Context) {
	state := strings.ToLower(strings.TrimSpace(c.Query("state")))
	market := strings.ToUpper(strings.TrimSpace(c.Query("market")))
	rules := r.Engine.Rules()
	views := make([]RuleView, 0, len(rules))
	for _, rl := range rules {
		if state != "" && rl.Runtime.State.String() != state {
			continue
		}
		if market != "" && rl.Asset != market {
			continue
		}
		views = append(views, newRuleView(rl, r.displayName(rl.Asset)))
	}
	c.JSON(http.StatusOK, gin.H{"rules": views, "total": len(views)})
}

func (r *Router) handleReload(c *gin.Context) {
	summary, err := r.Engine.Reload(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] reload failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	removed := make([]string, 0, len(summary.Removed))
	for _, rl := range summary.Removed {
		removed = append(removed, rl.ID)
	}
	logger.Infof("[api] rules reloaded ip=%s total=%d added=%d removed=%d", c.ClientIP(), summary.Total, summary.Added, len(removed))
	c.JSON(http.StatusOK, gin.H{
		"total":    summary.Total,
		"added":    summary.Added,
		"kept":     summary.Kept,
		"terminal": summary.Terminal,
		"removed":  removed,
	})
}

func (r *Router) handleOrders(c *gin.Context) {
	if r.Orders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order store disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var (
		rows []model.OrderModel
		err  error
	)
	if ruleID := strings.TrimSpace(c.Query("rule_id")); ruleID != "" {
		rows, err = r.Orders.ListByRule(ctx, ruleID)
	} else {
		rows, err = r.Orders.ListRecent(ctx, parseLimit(c, 50, 500))
	}
	if err != nil {
		logger.Errorf("[api] list orders failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]OrderView, 0, len(rows))
	for _, o := range rows {
		views = append(views, newOrderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views, "total": len(views)})
}

func (r *Router) handleTicks(c *gin.Context) {
	if r.Ticks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tick log disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	ticks, err := r.Ticks.Recent(ctx, parseLimit(c, 20, 500))
	if err != nil {
		logger.Errorf("[api] list ticks failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticks": ticks, "total": len(ticks)})
}

func (r *Router) displayName(market string) string {
	if r.Namer == nil {
		return ""
	}
	return r.Namer.DisplayName(market)
}

func parseLimit(c *gin.Context, def, ceiling int) int {
	limit, err := strconv.Atoi(strings.TrimSpace(c.DefaultQuery("limit", strconv.Itoa(def))))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
