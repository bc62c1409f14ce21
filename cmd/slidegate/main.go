package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glasswall-sec/slidegate"
	"github.com/glasswall-sec/slidegate/data"
	"github.com/glasswall-sec/slidegate/internal"
	libslidegate "github.com/glasswall-sec/slidegate/lib"
	"github.com/glasswall-sec/slidegate/lib/assets"
	"github.com/glasswall-sec/slidegate/lib/auth"
	"github.com/glasswall-sec/slidegate/lib/captcha"
	"github.com/glasswall-sec/slidegate/lib/store"
	"github.com/glasswall-sec/slidegate/lib/user"

	// storage backends
	_ "github.com/glasswall-sec/slidegate/lib/store/all"
)

var (
	assetsDir                = flag.String("assets-dir", "", "directory with image/ and puzzle/ captcha assets, uses the embedded set if not set")
	attemptCap               = flag.Int("attempt-cap", slidegate.DefaultAttemptCap, "verification attempts allowed per challenge session")
	bind                     = flag.String("bind", ":3001", "network address to bind HTTP to")
	bindNetwork              = flag.String("bind-network", "tcp", "network family to bind HTTP to, e.g. unix, tcp")
	captchaProofLifetime     = flag.Duration("captcha-proof-lifetime", slidegate.DefaultCaptchaProofLifetime, "how long a solved-captcha proof can be exchanged for a login")
	debugUsers               = flag.Bool("debug-users", false, "serve the /api/debug/users account listing")
	ed25519PrivateKeyHex     = flag.String("ed25519-private-key-hex", "", "private key used to sign JWTs, if not set a random one will be assigned")
	ed25519PrivateKeyHexFile = flag.String("ed25519-private-key-hex-file", "", "file name containing value for ed25519-private-key-hex")
	extractAssets            = flag.String("extract-assets", "", "if set, extract the embedded captcha assets to the specified folder and exit")
	healthcheck              = flag.Bool("healthcheck", false, "run a health check against slidegate")
	hs512Secret              = flag.String("hs512-secret", "", "secret used to sign JWTs, uses ed25519 if not set")
	loginTokenLifetime       = flag.Duration("login-token-lifetime", slidegate.DefaultLoginTokenLifetime, "how long login tokens stay valid")
	maxDragDuration          = flag.Duration("max-drag-duration", slidegate.DefaultMaxDragDuration, "longest drag the server will grade")
	metricsBind              = flag.String("metrics-bind", ":9090", "network address to bind metrics to")
	metricsBindNetwork       = flag.String("metrics-bind-network", "tcp", "network family for the metrics server to bind to")
	minDragDuration          = flag.Duration("min-drag-duration", slidegate.DefaultMinDragDuration, "shortest drag the server will grade")
	sessionTTL               = flag.Duration("session-ttl", slidegate.DefaultSessionTTL, "how long challenge sessions live")
	slogLevel                = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	socketMode               = flag.String("socket-mode", "0770", "socket mode (permissions) for unix domain sockets.")
	storeBackend             = flag.String("store-backend", "memory", fmt.Sprintf("which storage backend to use for challenge sessions (one of: %s)", strings.Join(store.Methods(), ", ")))
	storeBackendConfig       = flag.String("store-backend-config", "", "JSON configuration for the storage backend")
	usersFile                = flag.String("users-file", "./data/users.json", "path to the JSON account file")
	versionFlag              = flag.Bool("version", false, "print slidegate version")
)

func keyFromHex(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("supplied key is not hex-encoded: %w", err)
	}

	if len(keyBytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("supplied key is not %d bytes long, got %d bytes", ed25519.SeedSize, len(keyBytes))
	}

	return ed25519.NewKeyFromSeed(keyBytes), nil
}

func doHealthCheck() error {
	resp, err := http.Get("http://localhost" + *bind + slidegate.APIPrefix + "/health")
	if err != nil {
		return fmt.Errorf("failed to fetch health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// parseBindNetFromAddr determine bind network and address based on the given network and address.
func parseBindNetFromAddr(address string) (string, string) {
	defaultScheme := "http://"
	if !strings.Contains(address, "://") {
		if strings.HasPrefix(address, ":") {
			address = defaultScheme + "localhost" + address
		} else {
			address = defaultScheme + address
		}
	}

	bindUri, err := url.Parse(address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to parse bind URL: %w", err))
	}

	switch bindUri.Scheme {
	case "unix":
		return "unix", bindUri.Path
	case "tcp", "http", "https":
		return "tcp", bindUri.Host
	default:
		log.Fatal(fmt.Errorf("unsupported network scheme %s in address %s", bindUri.Scheme, address))
	}
	return "", address
}

func setupListener(network string, address string) (net.Listener, string) {
	formattedAddress := ""

	if network == "" {
		network, address = parseBindNetFromAddr(address)
	}

	switch network {
	case "unix":
		formattedAddress = "unix:" + address
	case "tcp":
		if strings.HasPrefix(address, ":") { // assume it's just a port e.g. :3001
			formattedAddress = "http://localhost" + address
		} else {
			formattedAddress = "http://" + address
		}
	default:
		formattedAddress = fmt.Sprintf(`(%s) %s`, network, address)
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		log.Fatal(fmt.Errorf("failed to bind to %s: %w", formattedAddress, err))
	}

	// additional permission handling for unix sockets
	if network == "unix" {
		mode, err := strconv.ParseUint(*socketMode, 8, 0)
		if err != nil {
			listener.Close()
			log.Fatal(fmt.Errorf("could not parse socket mode %s: %w", *socketMode, err))
		}

		if err := os.Chmod(address, os.FileMode(mode)); err != nil {
			if err := listener.Close(); err != nil {
				log.Printf("failed to close listener: %v", err)
			}
			log.Fatal(fmt.Errorf("could not change socket mode: %w", err))
		}
	}

	return listener, formattedAddress
}

func extractEmbedFS(fsys fs.FS, destDir string) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		outPath := filepath.Join(destDir, path)
		if d.IsDir() {
			return os.MkdirAll(outPath, 0o755)
		}

		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read embedded file %s: %w", path, err)
		}

		return os.WriteFile(outPath, content, 0o644)
	})
}

func buildStore(ctx context.Context) store.Interface {
	factory, ok := store.Get(*storeBackend)
	if !ok {
		log.Fatalf("unknown store backend %q, must be one of: %s", *storeBackend, strings.Join(store.Methods(), ", "))
	}

	config := json.RawMessage(*storeBackendConfig)
	if err := factory.Valid(config); err != nil {
		log.Fatalf("invalid store backend config: %v", err)
	}

	result, err := factory.Build(ctx, config)
	if err != nil {
		log.Fatalf("can't build store backend %s: %v", *storeBackend, err)
	}

	return result
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("slidegate", slidegate.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	if *extractAssets != "" {
		if err := extractEmbedFS(data.Assets, *extractAssets); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Extracted embedded captcha assets to %s\n", *extractAssets)
		return
	}

	var ed25519Priv ed25519.PrivateKey
	var err error
	if *hs512Secret != "" && (*ed25519PrivateKeyHex != "" || *ed25519PrivateKeyHexFile != "") {
		log.Fatal("do not specify both HS512 and ED25519 secrets")
	} else if *ed25519PrivateKeyHex != "" && *ed25519PrivateKeyHexFile != "" {
		log.Fatal("do not specify both ED25519_PRIVATE_KEY_HEX and ED25519_PRIVATE_KEY_HEX_FILE")
	} else if *ed25519PrivateKeyHex != "" {
		ed25519Priv, err = keyFromHex(*ed25519PrivateKeyHex)
		if err != nil {
			log.Fatalf("failed to parse and validate ED25519_PRIVATE_KEY_HEX: %v", err)
		}
	} else if *ed25519PrivateKeyHexFile != "" {
		hexFile, err := os.ReadFile(*ed25519PrivateKeyHexFile)
		if err != nil {
			log.Fatalf("failed to read ED25519_PRIVATE_KEY_HEX_FILE %s: %v", *ed25519PrivateKeyHexFile, err)
		}

		ed25519Priv, err = keyFromHex(string(bytes.TrimSpace(hexFile)))
		if err != nil {
			log.Fatalf("failed to parse and validate content of ED25519_PRIVATE_KEY_HEX_FILE: %v", err)
		}
	} else if *hs512Secret == "" {
		slog.Warn("generating random signing key, tokens will not survive restarts and will misbehave when multiple instances share a load balancer target")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var catalog *assets.Catalog
	if *assetsDir != "" {
		catalog = assets.NewDir(*assetsDir)
	} else {
		catalog = assets.New(data.Assets)
	}
	if len(catalog.Backgrounds()) == 0 || len(catalog.PuzzleShapes()) == 0 {
		log.Fatalf("no usable captcha assets in %q, need image/NN.png and puzzle/N.png files", *assetsDir)
	}

	users, err := user.New(*usersFile)
	if err != nil {
		log.Fatalf("can't open users file: %v", err)
	}

	mgr, err := auth.New(auth.Options{
		ED25519PrivateKey: ed25519Priv,
		HS512Secret:       []byte(*hs512Secret),
		LoginLifetime:     *loginTokenLifetime,
		CaptchaLifetime:   *captchaProofLifetime,
	})
	if err != nil {
		log.Fatalf("can't construct token manager: %v", err)
	}

	s, err := libslidegate.New(libslidegate.Options{
		Store:  buildStore(ctx),
		Assets: catalog,
		Users:  users,
		Auth:   mgr,
		Captcha: captcha.Options{
			SessionTTL:  *sessionTTL,
			AttemptCap:  *attemptCap,
			MinDuration: *minDragDuration,
			MaxDuration: *maxDragDuration,
		},
		StoreBackendName: *storeBackend,
		ServeDebugUsers:  *debugUsers,
	})
	if err != nil {
		log.Fatalf("can't construct slidegate server: %v", err)
	}

	wg := new(sync.WaitGroup)
	if *metricsBind != "" {
		wg.Add(1)
		go metricsServer(ctx, wg.Done)
	}

	srv := http.Server{Handler: s, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, listenerUrl := setupListener(*bindNetwork, *bind)
	slog.Info(
		"listening",
		"url", listenerUrl,
		"version", slidegate.Version,
		"store-backend", *storeBackend,
		"session-ttl", *sessionTTL,
		"attempt-cap", *attemptCap,
		"users-file", *usersFile,
		"debug-users", *debugUsers,
	)

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	wg.Wait()
}

func metricsServer(ctx context.Context, done func()) {
	defer done()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := http.Server{Handler: mux, ErrorLog: internal.GetFilteredHTTPLogger()}
	listener, metricsUrl := setupListener(*metricsBindNetwork, *metricsBind)
	slog.Debug("listening for metrics", "url", metricsUrl)

	if *healthcheck {
		log.Println("running healthcheck")
		if err := doHealthCheck(); err != nil {
			log.Fatal(err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			log.Printf("cannot shut down: %v", err)
		}
	}()

	if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
