package api

import (
	"net/http"

	"github.com/typesense/typesense-go/typesense/api"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/crosscheck-finance/crosscheck/config"

	"github.com/crosscheck-finance/crosscheck/api/middleware"

	"github.com/crosscheck-finance/crosscheck"
	"github.com/gin-gonic/gin"
)

type Api struct {
	crosscheck *crosscheck.CrossCheck
	router     *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/reconciliation/upload", a.CreateReconciliationSession)
	router.GET("/reconciliation/sessions", a.GetAllReconciliationSessions)
	router.GET("/reconciliation/sessions/:id", a.GetReconciliationSession)
	router.POST("/reconciliation/sessions/:id/start", a.StartSessionMatching)
	router.GET("/reconciliation/sessions/:id/status", a.GetSessionStatus)
	router.GET("/reconciliation/sessions/:id/summary", a.GetSessionSummary)
	router.GET("/reconciliation/sessions/:id/ledger-records", a.GetSessionLedgerRecords)
	router.GET("/reconciliation/sessions/:id/bank-records", a.GetSessionBankRecords)

	router.GET("/reconciliation/sessions/:id/matches", a.GetSessionMatches)
	router.GET("/reconciliation/matches/:id", a.GetMatch)
	router.POST("/reconciliation/matches/:id/confirm", a.ConfirmMatch)

	router.GET("/reconciliation/sessions/:id/exceptions", a.GetSessionExceptions)
	router.GET("/reconciliation/exceptions/:id", a.GetException)
	router.POST("/reconciliation/exceptions/:id/resolve", a.ResolveException)
	router.GET("/reconciliation/exceptions/:id/suggestions", a.GetMatchSuggestions)

	router.GET("/reconciliation/sessions/:id/report", a.DownloadSessionReport)
	router.POST("/reconciliation/sessions/:id/report/s3", a.ExportSessionReportToS3)

	router.POST("/search/:collection", a.Search)
	router.POST("/multi-search", a.MultiSearch)
	router.POST("/search/reindex", a.StartReindex)
	router.GET("/search/reindex/progress", a.GetReindexProgress)
	return a.router
}

func NewAPI(cc *crosscheck.CrossCheck) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{crosscheck: cc, router: r}
}

func (a Api) Search(c *gin.Context) {
	collection, passed := c.Params.Get("collection")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection is required. pass id in the route /:collection"})
		return
	}

	var query api.SearchCollectionParams
	err := c.BindJSON(&query)
	if err != nil {
		return
	}

	resp, err := a.crosscheck.Search(collection, &query)

	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) MultiSearch(c *gin.Context) {
	var searches api.MultiSearchSearchesParameter
	err := c.BindJSON(&searches)
	if err != nil {
		return
	}

	resp, err := a.crosscheck.MultiSearch(&searches)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
