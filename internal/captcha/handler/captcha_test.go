package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hotelhub/slidegate/internal/captcha/handler"
	"github.com/hotelhub/slidegate/internal/captcha/repository"
	"github.com/hotelhub/slidegate/internal/captcha/service"
	"github.com/hotelhub/slidegate/internal/puzzle"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubGenerator skips rasterisation; the handler only relays the data
// URIs.
type stubGenerator struct{}

func (stubGenerator) Generate() (*puzzle.Puzzle, error) {
	return &puzzle.Puzzle{
		TargetX:    150,
		TargetY:    60,
		PieceY:     51,
		Background: []byte("bg"),
		Piece:      []byte("piece"),
	}, nil
}

type stubMinter struct{}

func (stubMinter) Mint(scope, challengeID string) (string, error) {
	return "tok-" + challengeID, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	svc := service.NewCaptchaService(service.Config{},
		repository.NewMemoryChallengeRepository(), stubGenerator{}, stubMinter{}, nil, nil, zap.NewNop())
	h := handler.NewCaptchaHandler(svc, zap.NewNop())

	router := gin.New()
	h.Register(router.Group("/api/captcha"))
	return router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func generateOne(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, http.MethodGet, "/api/captcha/generate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("generate status = %d: %s", w.Code, w.Body)
	}
	var resp struct {
		CaptchaID string `json:"captchaId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode generate response: %v", err)
	}
	return resp.CaptchaID
}

func TestGenerate_response(t *testing.T) {
	router := newRouter(t)

	w := doJSON(router, http.MethodGet, "/api/captcha/generate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"captchaId", "bgImage", "pieceImage", "y"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
	// The solution coordinate must never appear in the payload.
	if strings.Contains(w.Body.String(), "targetX") {
		t.Error("response leaks the target coordinate")
	}
	if !strings.HasPrefix(resp["bgImage"].(string), "data:image/png;base64,") {
		t.Errorf("bgImage is not a data URI")
	}
}

func TestVerify_successContract(t *testing.T) {
	router := newRouter(t)
	id := generateOne(t, router)

	w := doJSON(router, http.MethodPost, "/api/captcha/verify", map[string]any{
		"captchaId": id,
		"x":         150,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}

	var resp struct {
		Success      bool   `json:"success"`
		CaptchaToken string `json:"captchaToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.CaptchaToken == "" {
		t.Fatalf("want success with token, got %s", w.Body)
	}
}

func TestVerify_mismatchIs200WithReason(t *testing.T) {
	router := newRouter(t)
	id := generateOne(t, router)

	w := doJSON(router, http.MethodPost, "/api/captcha/verify", map[string]any{
		"captchaId": id,
		"x":         10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (an expected outcome is not an HTTP error)", w.Code)
	}

	var resp struct {
		Success bool   `json:"success"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Msg != "position_mismatch" {
		t.Fatalf("got %+v, want success=false msg=position_mismatch", resp)
	}
}

func TestVerify_unknownChallenge(t *testing.T) {
	router := newRouter(t)

	w := doJSON(router, http.MethodPost, "/api/captcha/verify", map[string]any{
		"captchaId": "53c8dd0a-4adb-4f13-b2b1-e1c14196e7b0",
		"x":         150,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_or_expired") {
		t.Fatalf("body = %s, want invalid_or_expired", w.Body)
	}
}

func TestVerify_malformedRequests(t *testing.T) {
	router := newRouter(t)
	id := generateOne(t, router)

	cases := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"missing x", fmt.Sprintf(`{"captchaId":%q}`, id)},
		{"missing id", `{"x":150}`},
		{"bad uuid", `{"captchaId":"not-a-uuid","x":150}`},
		{"not json", `x=150`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/captcha/verify", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestVerify_zeroOffsetBinds(t *testing.T) {
	router := newRouter(t)
	id := generateOne(t, router)

	// x:0 is a valid submission, not a missing field.
	w := doJSON(router, http.MethodPost, "/api/captcha/verify", map[string]any{
		"captchaId": id,
		"x":         0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "position_mismatch") {
		t.Fatalf("body = %s, want a position_mismatch outcome", w.Body)
	}
}
