package valkey

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/glasswall-sec/slidegate/lib/store/storetest"
)

// TestImpl needs a running valkey/redis instance. Point VALKEY_URL at one
// (e.g. redis://localhost:6379/0) to run it.
func TestImpl(t *testing.T) {
	url := os.Getenv("VALKEY_URL")
	if url == "" {
		t.Skip("set VALKEY_URL to run valkey store tests")
		return
	}

	data, err := json.Marshal(Config{URL: url})
	if err != nil {
		t.Fatal(err)
	}

	storetest.Common(t, Factory{}, json.RawMessage(data))
}

func TestFactoryValid(t *testing.T) {
	f := Factory{}

	t.Run("bad config", func(t *testing.T) {
		if err := f.Valid(json.RawMessage(`}`)); err == nil {
			t.Error("wanted parsing failure but got a successful result")
		}
	})

	t.Run("missing url", func(t *testing.T) {
		data, err := json.Marshal(Config{})
		if err != nil {
			t.Fatal(err)
		}

		if err := f.Valid(json.RawMessage(data)); !errors.Is(err, ErrNoURL) {
			t.Error(err)
		}
	})
}
