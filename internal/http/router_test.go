package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/otl-fi/email-assistant/internal/domain"
	"github.com/otl-fi/email-assistant/internal/repo"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	r := gin.New()
	RegisterRoutes(r, db)
	return r, db
}

func seedConversation(t *testing.T, db *gorm.DB, key string, seq int) *domain.Conversation {
	t.Helper()
	cv := &domain.Conversation{
		ID:               domain.ConversationID(key, seq),
		ThreadKey:        key,
		Seq:              seq,
		CounterpartEmail: "jane@example.com",
		Subject:          "Meeting",
		Stage:            domain.StageGatheringInfo,
		Slots:            domain.Slots{domain.SlotAttendeeEmail: "jane@example.com"},
		Version:          1,
		Turns: []domain.Turn{
			{Seq: 1, Role: domain.RoleCustomer, Content: "hello", CreatedAt: time.Now().UTC()},
			{Seq: 2, Role: domain.RoleAssistant, Content: "hi!", CreatedAt: time.Now().UTC()},
		},
	}
	if err := repo.PutConversation(context.Background(), db, cv); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return cv
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatal("expected prometheus exposition output")
	}
}

func TestListConversations_Paginated(t *testing.T) {
	r, db := newTestRouter(t)
	for i := 0; i < 3; i++ {
		seedConversation(t, db, fmt.Sprintf("%024d", i), 1)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations?page=1&page_size=2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	var body struct {
		Items    []map[string]any `json:"items"`
		Page     int              `json:"page"`
		PageSize int              `json:"page_size"`
		Total    int64            `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Items) != 2 || body.Page != 1 || body.PageSize != 2 {
		t.Fatalf("unexpected page: %+v", body)
	}
}

func TestListConversations_BadParamsFallBack(t *testing.T) {
	r, db := newTestRouter(t)
	seedConversation(t, db, strings.Repeat("c", 24), 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations?page=abc&page_size=9999", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	var body struct {
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Page != 1 || body.PageSize != 100 {
		t.Fatalf("page = %d, page_size = %d; want defaults 1 and clamp 100", body.Page, body.PageSize)
	}
}

func TestGetConversation_FoundWithHistory(t *testing.T) {
	r, db := newTestRouter(t)
	cv := seedConversation(t, db, "aaaaaaaaaaaaaaaaaaaaaaaa", 1)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/aaaaaaaaaaaaaaaaaaaaaaaa%231", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d %s", w.Code, w.Body.String())
	}

	var body struct {
		ID    string           `json:"id"`
		Stage string           `json:"stage"`
		Turns []map[string]any `json:"turns"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != cv.ID || body.Stage != string(domain.StageGatheringInfo) {
		t.Fatalf("unexpected body: %+v", body)
	}
	if len(body.Turns) != 2 || body.Turns[0]["role"] != domain.RoleCustomer {
		t.Fatalf("unexpected turns: %+v", body.Turns)
	}
}

func TestGetConversation_NotFoundAndMalformed(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/bbbbbbbbbbbbbbbbbbbbbbbb%231", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing conversation = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations/not-an-id", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed id = %d", w.Code)
	}
}

func TestNoRouteEnvelope(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("no route = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"code":"not_found"`) {
		t.Fatalf("unexpected envelope: %s", w.Body.String())
	}
}
