package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"

	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/infra/rpc/provider"
)

// NewHTTPServer serves p over the batch HTTP protocol spoken by
// provider.HTTPProvider. The access token doubles as the credential id.
func NewHTTPServer(p *Platform) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := domain.Credential{ID: r.FormValue("access_token"), Token: r.FormValue("access_token")}
		path := strings.Trim(r.URL.Path, "/")

		switch {
		case r.Method == http.MethodPost && path == "":
			serveBatch(w, r, p, cred)
		case r.Method == http.MethodGet && strings.Count(path, "/") == 1:
			serveList(w, r, p, cred, srv.URL, path)
		case r.Method == http.MethodDelete && path != "":
			if err := p.Delete(r.Context(), cred, path); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		default:
			writeError(w, &provider.APIError{StatusCode: http.StatusBadRequest, Code: 100, Message: "Unknown path components"})
		}
	}))
	return srv
}

type batchItem struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
	Body        string `json:"body"`
	Name        string `json:"name"`
}

func serveBatch(w http.ResponseWriter, r *http.Request, p *Platform, cred domain.Credential) {
	var items []batchItem
	if err := json.Unmarshal([]byte(r.FormValue("batch")), &items); err != nil {
		writeError(w, &provider.APIError{StatusCode: http.StatusBadRequest, Code: 100, Message: "Invalid batch"})
		return
	}

	ops := make([]domain.Operation, len(items))
	for i, it := range items {
		values, err := url.ParseQuery(it.Body)
		if err != nil {
			writeError(w, &provider.APIError{StatusCode: http.StatusBadRequest, Code: 100, Message: "Invalid body"})
			return
		}
		body := make(map[string]any, len(values))
		for k := range values {
			body[k] = values.Get(k)
		}
		ops[i] = domain.Operation{Method: it.Method, Path: it.RelativeURL, Body: body, Name: it.Name}
	}

	results, err := p.SubmitGroup(r.Context(), cred, ops)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]any, len(results))
	for i, res := range results {
		if res != nil {
			out[i] = map[string]any{"code": res.Code, "body": res.Body}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func serveList(w http.ResponseWriter, r *http.Request, p *Platform, cred domain.Credential, base, path string) {
	groupID, edge, _ := strings.Cut(path, "/")

	var nodes []domain.Node
	var err error
	switch edge {
	case "adsets":
		nodes, err = p.ListParents(r.Context(), cred, groupID)
	case "ads":
		nodes, err = p.ListChildren(r.Context(), cred, groupID)
	default:
		err = &provider.APIError{StatusCode: http.StatusBadRequest, Code: 100, Message: "Unknown edge " + edge}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.FormValue("limit"))
	if limit <= 0 {
		limit = 25
	}
	after, _ := strconv.Atoi(r.FormValue("after"))
	after = min(after, len(nodes))
	end := min(after+limit, len(nodes))

	data := make([]map[string]string, 0, end-after)
	for _, n := range nodes[after:end] {
		item := map[string]string{"id": n.ID, "name": n.Name}
		if n.ParentID != "" {
			item["adset_id"] = n.ParentID
		}
		data = append(data, item)
	}

	resp := map[string]any{"data": data}
	if end < len(nodes) {
		q := r.URL.Query()
		q.Set("after", strconv.Itoa(end))
		resp["paging"] = map[string]string{"next": fmt.Sprintf("%s/%s?%s", base, path, q.Encode())}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		apiErr = &provider.APIError{StatusCode: http.StatusInternalServerError, Code: 2, Message: err.Error(), IsTransient: true}
	}
	status := apiErr.StatusCode
	if status == 0 {
		status = http.StatusBadRequest
	}
	if apiErr.RetryAfter != "" {
		w.Header().Set("Retry-After", apiErr.RetryAfter)
	}
	writeJSON(w, status, map[string]any{"error": map[string]any{
		"message":       apiErr.Message,
		"type":          "OAuthException",
		"code":          apiErr.Code,
		"error_subcode": apiErr.Subcode,
		"is_transient":  apiErr.IsTransient,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
