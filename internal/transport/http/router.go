package apihttp

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"arbiter/internal/health"
	"arbiter/internal/logger"
	"arbiter/internal/shadow"
	"arbiter/internal/store/tracelog"
	"arbiter/internal/weights"

	"github.com/gin-gonic/gin"
)

// HealthProvider 供应健康巡检快照。
type HealthProvider interface {
	Results() []health.Result
}

// WeightProvider 供应当前权重带。
type WeightProvider interface {
	Bands() (int64, []weights.Band)
}

// TraceProvider 供应历史决策 trace。
type TraceProvider interface {
	RecentTraces(ctx context.Context, q tracelog.TraceQuery) ([]tracelog.TraceRow, error)
}

// OutcomeProvider 供应反事实结果。
type OutcomeProvider interface {
	RecentOutcomes(ctx context.Context, limit int) ([]shadow.Outcome, error)
}

// Router 暴露决策核心的只读查询接口。
type Router struct {
	health   HealthProvider
	weights  WeightProvider
	traces   TraceProvider
	outcomes OutcomeProvider
}

func NewRouter(h HealthProvider, w WeightProvider, t TraceProvider, o OutcomeProvider) *Router {
	return &Router{health: h, weights: w, traces: t, outcomes: o}
}

// Register 将只读路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/health", r.handleHealth)
	group.GET("/weights", r.handleWeights)
	group.GET("/traces/recent", r.handleRecentTraces)
	group.GET("/shadow/outcomes", r.handleShadowOutcomes)
}

func (r *Router) handleHealth(c *gin.Context) {
	if r.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health supervisor 未启用"})
		return
	}
	results := r.health.Results()
	overall := "HEALTHY"
	for _, res := range results {
		if res.Status != health.StatusHealthy {
			overall = string(res.Status)
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"overall": overall, "checks": results})
}

func (r *Router) handleWeights(c *gin.Context) {
	if r.weights == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weight store 未启用"})
		return
	}
	version, bands := r.weights.Bands()
	c.JSON(http.StatusOK, gin.H{"version": version, "bands": bands})
}

func (r *Router) handleRecentTraces(c *gin.Context) {
	if r.traces == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trace store 未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	q := tracelog.TraceQuery{
		Symbol:  strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Outcome: strings.TrimSpace(c.Query("outcome")),
		Limit:   limit,
		Offset:  offset,
	}
	rows, err := r.traces.RecentTraces(c.Request.Context(), q)
	if err != nil {
		logger.Errorf("[api] recent traces failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"traces": rows, "count": len(rows)})
}

func (r *Router) handleShadowOutcomes(c *gin.Context) {
	if r.outcomes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shadow store 未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	outs, err := r.outcomes.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] shadow outcomes failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outs, "count": len(outs)})
}
