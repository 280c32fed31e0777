package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/hession/convscope/internal/chat"
	"github.com/hession/convscope/internal/importer"
	"github.com/hession/convscope/internal/search"
	"github.com/hession/convscope/internal/stats"
	"github.com/hession/convscope/internal/store"
)

func (h *handler) searchConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := search.ParseDate(q.Get("start"))
	if err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	end, err := search.ParseDate(q.Get("end"))
	if err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}

	results, err := h.search.Search(r.Context(), q.Get("q"), search.DateFilter{Start: start, End: end})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handler) getMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.GetConversation(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.store.GetMessagesForConversation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	store.SortByCreatedAt(msgs)
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handler) getConversationStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.store.GetConversation(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	cs, err := h.stats.ConversationStats(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// importConversations reads an export file from the body. The store is
// replaced unless replace=false.
func (h *handler) importConversations(w http.ResponseWriter, r *http.Request) {
	replace := true
	if v := r.URL.Query().Get("replace"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, errors.Wrapf(errBadRequest, "invalid replace value %q", v))
			return
		}
		replace = b
	}

	body := http.MaxBytesReader(w, r.Body, maxImportBytes)
	summary, err := h.importer.Import(r.Context(), body, importer.Options{
		Replace: replace,
		Progress: func(done, total int) {
			hlog.FromRequest(r).Debug().Int("done", done).Int("total", total).Msg("import progress")
		},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type exportRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *handler) exportConversations(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	var buf bytes.Buffer
	if _, err := h.importer.Export(r.Context(), req.IDs, &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="conversations.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *handler) resetData(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ResetAll(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getCorpusStats(w http.ResponseWriter, r *http.Request) {
	c, err := h.stats.CorpusStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type monthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// getMonthly returns the histogram as an ordered list.
func (h *handler) getMonthly(w http.ResponseWriter, r *http.Request) {
	hist, err := h.stats.MonthlyHistogram(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]monthCount, 0, len(hist))
	for _, k := range hist.Keys() {
		out = append(out, monthCount{Month: k, Count: hist[k]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getMostActive(w http.ResponseWriter, r *http.Request) {
	limit := stats.DefaultMostActiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, errors.Wrapf(errBadRequest, "invalid limit %q", v))
			return
		}
		limit = n
	}
	ranked, err := h.stats.MostActive(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ranked == nil {
		ranked = []stats.ActiveConversation{}
	}
	writeJSON(w, http.StatusOK, ranked)
}

type summarizeResponse struct {
	*chat.SummaryResult
	Selection *stats.Selection `json:"selection,omitempty"`
}

func (h *handler) summarize(w http.ResponseWriter, r *http.Request) {
	var req chat.SummaryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		req.Prompt = h.defaultPrompt
	}

	sel, err := h.stats.SelectionStats(r.Context(), req.ConversationIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.chat.Summarize(r.Context(), req)
	if err != nil {
		var reply *store.ChatMessage
		if res != nil {
			reply = res.Reply
		}
		writeErrorReply(w, r, err, reply)
		return
	}
	writeJSON(w, http.StatusOK, summarizeResponse{SummaryResult: res, Selection: sel})
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.Sessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*store.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type createSessionRequest struct {
	Title                 string `json:"title"`
	RelatedConversationID *int64 `json:"relatedConversationId"`
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	sess, err := h.chat.StartSession(r.Context(), req.Title, req.RelatedConversationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handler) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	msgs, err := h.chat.History(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*store.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Content string `json:"content"`
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := h.chat.Send(r.Context(), id, req.Content)
	if err != nil {
		writeErrorReply(w, r, err, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handler) clearChat(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listEndpoints returns endpoint settings with API keys redacted.
func (h *handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.settings.Load()
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range endpoints {
		endpoints[i] = endpoints[i].Redacted()
	}
	writeJSON(w, http.StatusOK, endpoints)
}
