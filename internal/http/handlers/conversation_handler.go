// Package handlers – conversation admin endpoints.
//
// Conversations are driven entirely by inbound email; this read-only API
// exists for operators to inspect what the assistant has done: which stage
// each conversation reached, what the customer asked for, and which booking
// was made. There are deliberately no mutating endpoints.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/otl-fi/email-assistant/internal/domain"
	"github.com/otl-fi/email-assistant/internal/repo"
)

// Handler serves the conversation admin endpoints.
type Handler struct {
	DB *gorm.DB
}

// New constructs the admin handler.
func New(db *gorm.DB) *Handler {
	return &Handler{DB: db}
}

// ConversationSummary is the list-view shape of a conversation.
type ConversationSummary struct {
	ID          string        `json:"id"`
	ThreadKey   string        `json:"thread_key"`
	Seq         int           `json:"seq"`
	Counterpart string        `json:"counterpart"`
	Subject     string        `json:"subject"`
	Stage       domain.Stage  `json:"stage"`
	Slots       domain.Slots  `json:"slots"`
	BookingRef  string        `json:"booking_ref,omitempty"`
	Version     int64         `json:"version"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TurnView is one history entry in the detail view.
type TurnView struct {
	Seq       int       `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationDetail is the single-conversation shape including history.
type ConversationDetail struct {
	ConversationSummary
	Turns []TurnView `json:"turns"`
}

// ListResponse is the paginated list envelope.
type ListResponse struct {
	Items    []ConversationSummary `json:"items"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Total    int64                 `json:"total"`
}

// ListConversations returns a page of conversations, most recently updated
// first. Query params: page (default 1), page_size (default 20, max 100).
func (h *Handler) ListConversations(c *gin.Context) {
	page := queryInt(c, "page", 1, 1, 1<<30)
	pageSize := queryInt(c, "page_size", 20, 1, 100)

	ctx := c.Request.Context()
	total, err := repo.CountConversations(ctx, h.DB)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not count conversations")
		return
	}

	items := []ConversationSummary{}
	if total > 0 {
		convs, err := repo.ListConversationsPage(ctx, h.DB, (page-1)*pageSize, pageSize)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list conversations")
			return
		}
		for _, cv := range convs {
			items = append(items, summarize(cv))
		}
	}

	ok(c, http.StatusOK, ListResponse{Items: items, Page: page, PageSize: pageSize, Total: total})
}

// GetConversation returns one conversation with its full history.
func (h *Handler) GetConversation(c *gin.Context) {
	id := c.Param("id")
	if key, _ := domain.SplitConversationID(id); key == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "malformed conversation id")
		return
	}

	cv, err := repo.GetConversation(c.Request.Context(), h.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load conversation")
		return
	}

	detail := ConversationDetail{ConversationSummary: summarize(*cv)}
	detail.Turns = make([]TurnView, 0, len(cv.Turns))
	for _, tn := range cv.Turns {
		detail.Turns = append(detail.Turns, TurnView{
			Seq:       tn.Seq,
			Role:      tn.Role,
			Content:   tn.Content,
			CreatedAt: tn.CreatedAt,
		})
	}
	ok(c, http.StatusOK, detail)
}

// queryInt reads an integer query parameter, falling back to def when the
// value is missing or unparsable and clamping the result to [min, max].
func queryInt(c *gin.Context, name string, def, min, max int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil {
		n = def
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}

func summarize(cv domain.Conversation) ConversationSummary {
	return ConversationSummary{
		ID:          cv.ID,
		ThreadKey:   cv.ThreadKey,
		Seq:         cv.Seq,
		Counterpart: cv.CounterpartEmail,
		Subject:     cv.Subject,
		Stage:       cv.Stage,
		Slots:       cv.Slots,
		BookingRef:  cv.BookingRef,
		Version:     cv.Version,
		UpdatedAt:   cv.UpdatedAt,
	}
}
