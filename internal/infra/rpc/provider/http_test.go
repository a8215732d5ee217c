package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/vietddude/adbatch/internal/core/domain"
)

func TestHTTPProvider_SubmitGroup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected method POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("access_token"); got != "tok-a" {
			t.Errorf("expected access_token tok-a, got %q", got)
		}

		var items []batchItem
		if err := json.Unmarshal([]byte(r.PostForm.Get("batch")), &items); err != nil {
			t.Fatalf("decode batch: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 batch items, got %d", len(items))
		}
		if items[0].Name != "create-parent-0" || items[0].RelativeURL != "act_1/adsets" {
			t.Errorf("unexpected first item: %+v", items[0])
		}
		body, _ := url.ParseQuery(items[1].Body)
		if body.Get("adset_id") != "{result=create-parent-0:$.id}" {
			t.Errorf("expected result reference in child body, got %q", items[1].Body)
		}

		// Second slot comes back null.
		_, _ = w.Write([]byte(`[{"code":200,"body":"{\"id\":\"p1\"}"},null]`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	ops := []domain.Operation{
		{Method: "POST", Path: "act_1/adsets", Name: "create-parent-0", Body: map[string]any{"name": "A"}},
		{Method: "POST", Path: "act_1/ads", Body: map[string]any{"adset_id": domain.ResultRef("create-parent-0")}},
	}

	results, err := p.SubmitGroup(context.Background(), domain.Credential{ID: "a", Token: "tok-a"}, ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0] == nil || results[0].Code != 200 || results[0].Body != `{"id":"p1"}` {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1] != nil {
		t.Errorf("expected nil second result, got %+v", results[1])
	}
}

func TestHTTPProvider_SubmitGroup_RequestError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"User request limit reached","code":17,"type":"OAuthException"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	_, err := p.SubmitGroup(context.Background(), domain.Credential{ID: "a"}, []domain.Operation{{Method: "POST", Path: "x"}})
	if err == nil {
		t.Fatal("expected error")
	}

	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != 429 || apiErr.Code != 17 || apiErr.RetryAfter != "12" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
	if status := p.Monitor.CheckProviderStatus(); status != StatusThrottled {
		t.Errorf("expected throttled monitor, got %v", status)
	}
	if h := p.GetHealth(); h.ErrorRate != 1 {
		t.Errorf("expected error rate 1, got %v", h.ErrorRate)
	}
}

func TestHTTPProvider_ListChildrenFollowsPaging(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/g1/ads" {
			t.Errorf("expected path /g1/ads, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("after") == "" {
			fmt.Fprintf(w, `{"data":[{"id":"c1","adset_id":"p1"}],"paging":{"next":"%s/g1/ads?after=cur"}}`, server.URL)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"c2","adset_id":"p2"}]}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	nodes, err := p.ListChildren(context.Background(), domain.Credential{ID: "a"}, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 children, got %d", len(nodes))
	}
	if nodes[0].ParentID != "p1" || nodes[1].ID != "c2" {
		t.Errorf("unexpected nodes: %+v", nodes)
	}
}

func TestHTTPProvider_DeleteNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Unsupported delete request","code":100,"error_subcode":33}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("mock", server.URL, 5*time.Second)
	err := p.Delete(context.Background(), domain.Credential{ID: "a"}, "p9")
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestEncodeBody(t *testing.T) {
	got, err := EncodeBody(map[string]any{
		"name":      "Copy 1",
		"targeting": map[string]any{"geo": "US"},
		"bid":       150,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values, err := url.ParseQuery(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if values.Get("name") != "Copy 1" {
		t.Errorf("expected plain string, got %q", values.Get("name"))
	}
	if values.Get("targeting") != `{"geo":"US"}` {
		t.Errorf("expected json object, got %q", values.Get("targeting"))
	}
	if values.Get("bid") != "150" {
		t.Errorf("expected 150, got %q", values.Get("bid"))
	}

	if empty, _ := EncodeBody(nil); empty != "" {
		t.Errorf("expected empty body, got %q", empty)
	}
}
