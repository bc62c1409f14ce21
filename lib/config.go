package lib

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/glasswall-sec/slidegate"
	"github.com/glasswall-sec/slidegate/internal"
	"github.com/glasswall-sec/slidegate/lib/assets"
	"github.com/glasswall-sec/slidegate/lib/auth"
	"github.com/glasswall-sec/slidegate/lib/captcha"
	"github.com/glasswall-sec/slidegate/lib/store"
	"github.com/glasswall-sec/slidegate/lib/user"
)

type Options struct {
	Store  store.Interface
	Assets *assets.Catalog
	Users  *user.Store
	Auth   *auth.Manager

	// Captcha tunes challenge geometry and grading. Zero values mean
	// the package defaults.
	Captcha captcha.Options

	// StoreBackendName is only used for display in /api/health.
	StoreBackendName string

	// ServeDebugUsers enables the /api/debug/users listing. Off unless
	// explicitly requested.
	ServeDebugUsers bool
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("lib: Options.Store is required")
	}
	if opts.Assets == nil {
		return nil, fmt.Errorf("lib: Options.Assets is required")
	}
	if opts.Users == nil {
		return nil, fmt.Errorf("lib: Options.Users is required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("lib: Options.Auth is required")
	}

	result := &Server{
		captcha: captcha.New(opts.Store, opts.Assets, opts.Captcha),
		users:   opts.Users,
		auth:    opts.Auth,
		opts:    opts,
	}

	mux := http.NewServeMux()

	// JSON routes are compressed, image bytes are served as-is since
	// PNG does not compress further.
	registerJSON := func(pattern string, handler http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.Handle(method+" "+slidegate.APIPrefix+path, internal.GzipMiddleware(1, handler))
	}

	registerJSON("GET /captcha/generate", result.GenerateCaptcha)
	registerJSON("POST /captcha/verify", result.VerifyCaptcha)
	mux.HandleFunc("GET "+slidegate.APIPrefix+"/captcha/image/{sessionId}/{type}", result.CaptchaImage)

	registerJSON("POST /signup", result.Signup)
	registerJSON("POST /login", result.Login)
	registerJSON("GET /profile", result.Profile)
	registerJSON("POST /logout", result.Logout)
	registerJSON("GET /health", result.Health)

	if opts.ServeDebugUsers {
		registerJSON("GET /debug/users", result.DebugUsers)
	}

	result.mux = mux

	return result, nil
}
