package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/threadline-backend/internal/observability"
	"github.com/yungbote/threadline-backend/internal/platform/ctxutil"
)

func TestCORSAllowsLocalDevOrigins(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	origins := []string{
		"http://localhost:5174",
		"http://127.0.0.1:5173",
	}

	for _, origin := range origins {
		origin := origin
		t.Run(origin, func(t *testing.T) {
			t.Parallel()
			r := gin.New()
			r.Use(CORS())
			r.OPTIONS("/api/threads", func(c *gin.Context) {
				c.Status(http.StatusNoContent)
			})

			req := httptest.NewRequest(http.MethodOptions, "/api/threads", nil)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNoContent)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
				t.Fatalf("unexpected allow-origin header: got=%q want=%q", got, origin)
			}
		})
	}
}

func TestCORSConfiguredOriginsReplaceDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS("https://chat.example.com"))
	r.GET("/api/threads/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/threads/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("dev origin should be rejected: got=%q", got)
	}
}

func TestAttachTraceContextEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = c.GetString("request_id")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if seen != "req-1" || rec.Header().Get("X-Request-Id") != "req-1" {
		t.Fatalf("request id: ctx=%q header=%q", seen, rec.Header().Get("X-Request-Id"))
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("trace id header missing")
	}
}

func TestAttachTraceContextTagsThreadRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext())
	var td *ctxutil.TraceData
	r.GET("/api/threads/:id/messages/:messageId/text", func(c *gin.Context) {
		td = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})
	threadID, messageID := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/threads/"+threadID.String()+"/messages/"+messageID.String()+"/text", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if td == nil || td.ThreadID != threadID || td.MessageID != messageID {
		t.Fatalf("trace data: want=%s/%s got=%+v", threadID, messageID, td)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/threads/nope/messages/"+messageID.String()+"/text", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if td.ThreadID != uuid.Nil || td.MessageID != messageID {
		t.Fatalf("malformed thread id: got=%+v", td)
	}
}

func TestMetricsSkipsLatencyForEventStreams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/threads/:id/events", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/threads/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	id := uuid.NewString()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/threads/"+id+"/events", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/threads/"+id, nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	latencyRoutes := map[string]bool{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range metric.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			switch f.GetName() {
			case "tl_api_requests_total":
				counts[labels["route"]+" "+labels["status"]] += metric.GetCounter().GetValue()
			case "tl_api_request_duration_seconds":
				latencyRoutes[labels["route"]] = true
			}
		}
	}
	for _, key := range []string{"/api/threads/:id/events stream", "/api/threads/:id 200", "unmatched 404"} {
		if counts[key] != 1 {
			t.Fatalf("count %q: want=1 got=%v (all=%v)", key, counts[key], counts)
		}
	}
	if latencyRoutes["/api/threads/:id/events"] || !latencyRoutes["/api/threads/:id"] {
		t.Fatalf("latency routes: %v", latencyRoutes)
	}
}
