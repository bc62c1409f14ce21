package lib

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/glasswall-sec/slidegate/lib/assets"
	"github.com/glasswall-sec/slidegate/lib/auth"
	"github.com/glasswall-sec/slidegate/lib/captcha"
	"github.com/glasswall-sec/slidegate/lib/store/memory"
	"github.com/glasswall-sec/slidegate/lib/user"
)

func testAssets() *assets.Catalog {
	return assets.New(fstest.MapFS{
		"image/01.png": {Data: []byte("fake background png")},
		"puzzle/1.png": {Data: []byte("fake puzzle png")},
	})
}

func spawnServer(t *testing.T, mutate func(*Options)) *httptest.Server {
	t.Helper()

	users, err := user.New(filepath.Join(t.TempDir(), "users.json"))
	if err != nil {
		t.Fatal(err)
	}

	mgr, err := auth.New(auth.Options{})
	if err != nil {
		t.Fatal(err)
	}

	opts := Options{
		Store:            memory.New(t.Context()),
		Assets:           testAssets(),
		Users:            users,
		Auth:             mgr,
		StoreBackendName: "memory",
		ServeDebugUsers:  true,
	}
	if mutate != nil {
		mutate(&opts)
	}

	srv, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatal(err)
	}
}

func solveCaptcha(t *testing.T, base string) string {
	t.Helper()

	resp, err := http.Get(base + "/api/captcha/generate")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: status %d", resp.StatusCode)
	}

	var chall captcha.Challenge
	decodeBody(t, resp, &chall)

	resp = postJSON(t, base+"/api/captcha/verify", map[string]any{
		"sessionId": chall.SessionID,
		"positionX": chall.PuzzleX + 5,
		"duration":  1500,
	})

	var verdict struct {
		Valid        bool   `json:"valid"`
		CaptchaToken string `json:"captchaToken"`
	}
	decodeBody(t, resp, &verdict)

	if !verdict.Valid || verdict.CaptchaToken == "" {
		t.Fatalf("captcha solve failed: %+v", verdict)
	}

	return verdict.CaptchaToken
}

func TestGenerateCaptcha(t *testing.T) {
	ts := spawnServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/captcha/generate")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var chall captcha.Challenge
	decodeBody(t, resp, &chall)

	if chall.SessionID == "" {
		t.Error("no session id in payload")
	}
	if chall.CanvasWidth != 300 || chall.PuzzleWidth != 60 {
		t.Errorf("wrong geometry: %+v", chall)
	}
	if !strings.HasPrefix(chall.BackgroundImage, "/api/captcha/image/") {
		t.Errorf("wrong background URL: %q", chall.BackgroundImage)
	}
}

func TestGenerateCaptchaNoAssets(t *testing.T) {
	ts := spawnServer(t, func(opts *Options) {
		opts.Assets = assets.New(fstest.MapFS{})
	})

	resp, err := http.Get(ts.URL + "/api/captcha/generate")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("wanted 503 but got %d", resp.StatusCode)
	}

	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error != "captcha temporarily unavailable" {
		t.Errorf("wrong error message: %q", body.Error)
	}
}

func TestVerifyMalformedBody(t *testing.T) {
	ts := spawnServer(t, nil)

	for _, raw := range []string{"", "not json", `{"positionX": 10}`, `{"sessionId": 42}`} {
		resp, err := http.Post(ts.URL+"/api/captcha/verify", "application/json", strings.NewReader(raw))
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("body %q: wanted 200 but got %d", raw, resp.StatusCode)
		}

		var verdict struct {
			Valid bool `json:"valid"`
		}
		decodeBody(t, resp, &verdict)
		if verdict.Valid {
			t.Errorf("body %q: malformed input verified", raw)
		}
	}
}

func TestCaptchaImages(t *testing.T) {
	ts := spawnServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/captcha/generate")
	if err != nil {
		t.Fatal(err)
	}
	var chall captcha.Challenge
	decodeBody(t, resp, &chall)

	resp, err = http.Get(ts.URL + chall.BackgroundImage)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("background: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("wrong content type %q", ct)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Error("no ETag on image response")
	}
	if data, _ := io.ReadAll(resp.Body); string(data) != "fake background png" {
		t.Errorf("wrong image bytes: %q", data)
	}

	// conditional refetch hits the ETag
	req, err := http.NewRequest(http.MethodGet, ts.URL+chall.BackgroundImage, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional refetch: wanted 304 but got %d", resp.StatusCode)
	}

	// bad role and bad session both 404
	for _, path := range []string{
		"/api/captcha/image/" + chall.SessionID + "/answer",
		"/api/captcha/image/0000/background",
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: wanted 404 but got %d", path, resp.StatusCode)
		}
	}
}

func TestCaptchaVerifyConsumes(t *testing.T) {
	ts := spawnServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/captcha/generate")
	if err != nil {
		t.Fatal(err)
	}
	var chall captcha.Challenge
	decodeBody(t, resp, &chall)

	body := map[string]any{
		"sessionId": chall.SessionID,
		"positionX": chall.PuzzleX + 5,
		"duration":  1500,
	}

	var verdict struct {
		Valid        bool   `json:"valid"`
		Reason       string `json:"reason"`
		CaptchaToken string `json:"captchaToken"`
	}

	decodeBody(t, postJSON(t, ts.URL+"/api/captcha/verify", body), &verdict)
	if !verdict.Valid || verdict.CaptchaToken == "" {
		t.Fatalf("first verify: %+v", verdict)
	}

	decodeBody(t, postJSON(t, ts.URL+"/api/captcha/verify", body), &verdict)
	if verdict.Valid || verdict.Reason != "Session expired" {
		t.Fatalf("replay: %+v", verdict)
	}
}

func TestCaptchaProofBoundToSession(t *testing.T) {
	mgr, err := auth.New(auth.Options{})
	if err != nil {
		t.Fatal(err)
	}
	ts := spawnServer(t, func(o *Options) { o.Auth = mgr })

	resp, err := http.Get(ts.URL + "/api/captcha/generate")
	if err != nil {
		t.Fatal(err)
	}
	var chall captcha.Challenge
	decodeBody(t, resp, &chall)

	var verdict struct {
		Valid        bool   `json:"valid"`
		CaptchaToken string `json:"captchaToken"`
	}
	decodeBody(t, postJSON(t, ts.URL+"/api/captcha/verify", map[string]any{
		"sessionId": chall.SessionID,
		"positionX": chall.PuzzleX + 5,
		"duration":  1500,
	}), &verdict)
	if !verdict.Valid || verdict.CaptchaToken == "" {
		t.Fatalf("verify: %+v", verdict)
	}

	sessionID, err := mgr.VerifyCaptchaProof(verdict.CaptchaToken)
	if err != nil {
		t.Fatal(err)
	}
	if sessionID != chall.SessionID {
		t.Errorf("proof bound to %q, solved session was %q", sessionID, chall.SessionID)
	}
}

func TestSignupValidation(t *testing.T) {
	ts := spawnServer(t, nil)

	for _, tt := range []struct {
		name   string
		body   map[string]any
		status int
	}{
		{name: "missing fields", body: map[string]any{"email": "a@b.co"}, status: http.StatusBadRequest},
		{name: "bad email", body: map[string]any{"fullName": "A", "email": "nope", "password": "hunter22"}, status: http.StatusBadRequest},
		{name: "short password", body: map[string]any{"fullName": "A", "email": "a@b.co", "password": "abc"}, status: http.StatusBadRequest},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/signup", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("wanted %d but got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestSignupLoginProfile(t *testing.T) {
	ts := spawnServer(t, nil)

	signup := map[string]any{
		"fullName": "Alice Example",
		"email":    "alice@example.com",
		"password": "hunter22",
	}

	resp := postJSON(t, ts.URL+"/api/signup", signup)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: status %d", resp.StatusCode)
	}
	var created struct {
		Token string `json:"token"`
		User  struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
	}
	decodeBody(t, resp, &created)
	if created.Token == "" || created.User.ID == "" {
		t.Fatalf("signup response incomplete: %+v", created)
	}

	// duplicate signup is refused
	resp = postJSON(t, ts.URL+"/api/signup", signup)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate signup: wanted 409 but got %d", resp.StatusCode)
	}

	// login without a captcha proof never reaches the password check
	resp = postJSON(t, ts.URL+"/api/login", map[string]any{
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("captcha-less login: wanted 403 but got %d", resp.StatusCode)
	}

	captchaToken := solveCaptcha(t, ts.URL)

	// wrong password still fails even with a proof
	resp = postJSON(t, ts.URL+"/api/login", map[string]any{
		"email":        "alice@example.com",
		"password":     "wrong",
		"captchaToken": captchaToken,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: wanted 401 but got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/login", map[string]any{
		"email":        "nobody@example.com",
		"password":     "hunter22",
		"captchaToken": solveCaptcha(t, ts.URL),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown account: wanted 404 but got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/login", map[string]any{
		"email":        "alice@example.com",
		"password":     "hunter22",
		"captchaToken": solveCaptcha(t, ts.URL),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	var logged struct {
		Token string `json:"token"`
		User  struct {
			LastLogin *string `json:"lastLogin"`
		} `json:"user"`
	}
	decodeBody(t, resp, &logged)
	if logged.Token == "" {
		t.Fatal("login returned no token")
	}
	if logged.User.LastLogin == nil {
		t.Error("login did not record a login time")
	}

	// the login token unlocks the profile
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/profile", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+logged.Token)
	profResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if profResp.StatusCode != http.StatusOK {
		t.Fatalf("profile: status %d", profResp.StatusCode)
	}
	var prof struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	decodeBody(t, profResp, &prof)
	if prof.User.Email != "alice@example.com" {
		t.Errorf("profile for wrong account: %+v", prof)
	}

	// a captcha proof is not a login token
	req.Header.Set("Authorization", "Bearer "+solveCaptcha(t, ts.URL))
	profResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	profResp.Body.Close()
	if profResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("captcha proof as login token: wanted 401 but got %d", profResp.StatusCode)
	}
}

func TestProfileWithoutToken(t *testing.T) {
	ts := spawnServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/profile")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wanted 401 but got %d", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	ts := spawnServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/logout", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("wanted 200 but got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := spawnServer(t, nil)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Users   int    `json:"users"`
		Storage string `json:"storage"`
	}
	decodeBody(t, resp, &body)
	if body.Status != "OK" || body.Storage != "memory" {
		t.Errorf("unexpected health payload: %+v", body)
	}
}

func TestDebugUsersRedacted(t *testing.T) {
	ts := spawnServer(t, nil)

	resp := postJSON(t, ts.URL+"/api/signup", map[string]any{
		"fullName": "Alice",
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: status %d", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/api/debug/users")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()

	raw, err := io.ReadAll(listResp.Body)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(raw), "alice@example.com") {
		t.Error("listing is missing the account")
	}
	if strings.Contains(string(raw), "$2a$") || strings.Contains(string(raw), "password") {
		t.Error("listing leaks password material")
	}
}

func TestDebugUsersDisabled(t *testing.T) {
	ts := spawnServer(t, func(opts *Options) {
		opts.ServeDebugUsers = false
	})

	resp, err := http.Get(ts.URL + "/api/debug/users")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("wanted 404 but got %d", resp.StatusCode)
	}
}
